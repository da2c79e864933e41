// Package scoring derives ranked predictions and confidence
// interpretation from raw model probability vectors.
package scoring

import (
	"fmt"
	"image"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/ingest"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/model"
)

// Level is the three-valued confidence bucket.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// Fixed interpretation thresholds. These are policy constants carried
// over from model evaluation, not learned values; changing them
// changes the HIGH/MEDIUM/LOW split.
const (
	highConfidence = 0.75
	highMargin     = 0.15
	lowConfidence  = 0.55
	lowMargin      = 0.08
)

// The two ripeness classes whose colors overlap the most. Predictions
// torn between them get a dedicated explanation.
const (
	ClassPartiallyRipe = "partially_ripe"
	ClassFullyRipe     = "fully_ripe"
)

// Ranked pairs a class label with its predicted probability.
type Ranked struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Prediction is the outcome of one forward pass.
type Prediction struct {
	Label      string
	Confidence float64
	Probs      []float64
}

// Classify preprocesses the image, runs it through the predictor and
// returns the arg-max class with its probability vector.
func Classify(p model.Predictor, img image.Image, classNames []string) (Prediction, error) {
	input := ingest.Preprocess(img)

	raw, err := p.Predict(input)
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction failed: %w", err)
	}
	if len(raw) != len(classNames) {
		return Prediction{}, fmt.Errorf("model returned %d probabilities for %d classes", len(raw), len(classNames))
	}

	probs := make([]float64, len(raw))
	for i, v := range raw {
		probs[i] = float64(v)
	}

	// MaxIdx resolves ties in favor of the lowest index.
	best := floats.MaxIdx(probs)
	return Prediction{
		Label:      classNames[best],
		Confidence: probs[best],
		Probs:      probs,
	}, nil
}

// TopK returns the k highest-probability classes in descending order.
// Equal probabilities keep ascending index order.
func TopK(probs []float64, classNames []string, k int) []Ranked {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})

	if k > len(idx) {
		k = len(idx)
	}
	out := make([]Ranked, k)
	for i := 0; i < k; i++ {
		out[i] = Ranked{Label: classNames[idx[i]], Probability: probs[idx[i]]}
	}
	return out
}

// Margin is the gap between the two highest probabilities, a proxy
// for prediction ambiguity. Always >= 0.
func Margin(top []Ranked) float64 {
	if len(top) < 2 {
		return 0
	}
	return top[0].Probability - top[1].Probability
}

// Interpret buckets a (confidence, margin) pair into HIGH, MEDIUM or
// LOW and returns the matching explanatory note. The function is
// total over the unit square.
func Interpret(conf, margin float64) (Level, string) {
	if conf >= highConfidence && margin >= highMargin {
		return LevelHigh, "Strong and stable prediction."
	}
	if conf < lowConfidence || margin < lowMargin {
		return LevelLow, "Uncertain prediction (ambiguous image or poor input quality)."
	}
	return LevelMedium, "Reasonable prediction, but a competing class is close."
}

// LowConfidenceInsight explains a LOW-confidence result. The
// partially_ripe / fully_ripe pair gets a dedicated note because
// their colors overlap heavily; any other pair gets the generic one.
// The comparison ignores which label ranked first.
func LowConfidenceInsight(top1, top2 string) string {
	if (top1 == ClassPartiallyRipe && top2 == ClassFullyRipe) ||
		(top1 == ClassFullyRipe && top2 == ClassPartiallyRipe) {
		return "The model hesitates because partially_ripe and fully_ripe have very similar colors, " +
			"influenced by lighting and the visible proportion of red fruit."
	}
	return "The model hesitates because the classes share close visual features (similar color or texture) " +
		"or the photo quality is not optimal."
}

// RetakeAdvice lists photo tips shown alongside LOW-confidence results.
var RetakeAdvice = []string{
	"Shoot closer so the bunch dominates the frame",
	"Use even lighting, avoid backlight and hard shadows",
	"Avoid blur, keep the focus sharp",
	"Keep grass and leaves from covering the bunch",
}
