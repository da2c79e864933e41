package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/assets"
)

// ImageSize is the fixed input resolution. All three models were
// trained on 160x160 crops, so inference must use the same resize.
const ImageSize = 160

// InputLength is the number of float32 values in one input tensor
// (batch of one, HWC layout, 3 channels).
const InputLength = ImageSize * ImageSize * 3

// Predictor runs a forward pass over one preprocessed image and
// returns the raw probability vector.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime() error {
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Session wraps one ONNX model with preallocated input/output tensors.
// A Session is not safe for concurrent Predict calls; the pipeline
// runs images one at a time.
type Session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewSession loads the model at modelPath. Loading can take seconds,
// callers are expected to cache the result per model selection.
func NewSession(modelPath string) (*Session, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(1, ImageSize, ImageSize, 3)
	outputShape := ort.NewShape(1, assets.NumClasses)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict copies input into the session tensor, runs inference and
// returns a copy of the output probabilities.
func (s *Session) Predict(input []float32) ([]float32, error) {
	if len(input) != InputLength {
		return nil, fmt.Errorf("expected %d input values, got %d", InputLength, len(input))
	}

	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	probs := make([]float32, assets.NumClasses)
	copy(probs, out[:assets.NumClasses])
	return probs, nil
}

// Close releases the session and its tensors.
func (s *Session) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}
