// Package report aggregates per-image predictions into sortable,
// filterable tables with CSV export.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/scoring"
)

// Row is one classified image. Rows are never mutated after creation.
type Row struct {
	Filename   string        `json:"filename"`
	PredLabel  string        `json:"pred_label"`
	Confidence float64       `json:"confidence"`
	Margin     float64       `json:"margin_top1_top2"`
	Level      scoring.Level `json:"confidence_level"`
	Top3       string        `json:"top3"`
	Top1       string        `json:"top1"`
	Top2       string        `json:"top2"`
}

// CSVHeader is the exported column set, in order.
var CSVHeader = []string{"filename", "pred_label", "confidence", "margin_top1_top2", "confidence_level", "top3"}

// NewRow builds a row from one prediction: top-3 extraction, margin,
// confidence bucket. Confidence and margin are rounded to 4 decimals.
func NewRow(filename string, pred scoring.Prediction, classNames []string) Row {
	top3 := scoring.TopK(pred.Probs, classNames, 3)
	margin := scoring.Margin(top3)
	level, _ := scoring.Interpret(pred.Confidence, margin)

	parts := make([]string, len(top3))
	for i, r := range top3 {
		parts[i] = fmt.Sprintf("%s:%.3f", r.Label, r.Probability)
	}

	return Row{
		Filename:   filename,
		PredLabel:  pred.Label,
		Confidence: round4(pred.Confidence),
		Margin:     round4(margin),
		Level:      level,
		Top3:       strings.Join(parts, ", "),
		Top1:       top3[0].Label,
		Top2:       top3[1].Label,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Table is an ordered collection of rows.
type Table struct {
	Rows []Row `json:"rows"`
}

var levelRank = map[scoring.Level]int{
	scoring.LevelLow:    0,
	scoring.LevelMedium: 1,
	scoring.LevelHigh:   2,
}

// Sorted returns a copy ordered LOW, MEDIUM, HIGH, with confidence
// descending inside each level. Uncertain results surface first.
func (t Table) Sorted() Table {
	rows := make([]Row, len(t.Rows))
	copy(rows, t.Rows)
	sort.SliceStable(rows, func(a, b int) bool {
		if levelRank[rows[a].Level] != levelRank[rows[b].Level] {
			return levelRank[rows[a].Level] < levelRank[rows[b].Level]
		}
		return rows[a].Confidence > rows[b].Confidence
	})
	return Table{Rows: rows}
}

// OnlyLow returns a copy keeping only LOW-confidence rows.
func (t Table) OnlyLow() Table {
	var rows []Row
	for _, r := range t.Rows {
		if r.Level == scoring.LevelLow {
			rows = append(rows, r)
		}
	}
	return Table{Rows: rows}
}

// Summary holds per-batch confidence-level counts.
type Summary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Summary counts rows per confidence level.
func (t Table) Summary() Summary {
	s := Summary{Total: len(t.Rows)}
	for _, r := range t.Rows {
		switch r.Level {
		case scoring.LevelHigh:
			s.High++
		case scoring.LevelMedium:
			s.Medium++
		case scoring.LevelLow:
			s.Low++
		}
	}
	return s
}

// LabelCounts tallies rows per predicted label, the data behind the
// prediction-distribution chart.
func (t Table) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range t.Rows {
		counts[r.PredLabel]++
	}
	return counts
}

// LevelCounts tallies rows per confidence level.
func (t Table) LevelCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range t.Rows {
		counts[string(r.Level)]++
	}
	return counts
}

// CSV serializes the table as UTF-8 comma-separated text with a
// header row. Floats are written with 4 decimal places.
func (t Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range t.Rows {
		record := []string{
			r.Filename,
			r.PredLabel,
			fmt.Sprintf("%.4f", r.Confidence),
			fmt.Sprintf("%.4f", r.Margin),
			string(r.Level),
			r.Top3,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}
