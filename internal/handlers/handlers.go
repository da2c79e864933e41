package handlers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/assets"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/report"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/scoring"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/service"
)

//go:embed static
var staticFS embed.FS

// maxUploadBytes caps one multipart request (images or ZIP).
const maxUploadBytes = 100 << 20

// previewLimit caps the preview entries returned per batch.
const previewLimit = 9

type Handler struct {
	classifier *service.Classifier
}

func NewHandler(classifier *service.Classifier) *Handler {
	return &Handler{classifier: classifier}
}

// Preview is a compact per-image entry for the dashboard grid.
type Preview struct {
	Filename   string        `json:"filename"`
	PredLabel  string        `json:"pred_label"`
	Confidence float64       `json:"confidence"`
	Margin     float64       `json:"margin_top1_top2"`
	Level      scoring.Level `json:"confidence_level"`
}

// ClassifyResponse is the JSON body for both classification routes.
type ClassifyResponse struct {
	BatchID     string            `json:"batch_id"`
	Model       string            `json:"model"`
	ModelName   string            `json:"model_name"`
	Summary     report.Summary    `json:"summary"`
	Rows        []report.Row      `json:"rows"`
	LabelCounts map[string]int    `json:"label_counts"`
	LevelCounts map[string]int    `json:"level_counts"`
	Previews    []Preview         `json:"previews"`
	Insights    map[string]string `json:"insights,omitempty"`
	Advice      []string          `json:"advice,omitempty"`
	Threshold   float64           `json:"threshold"`
}

type modelsResponse struct {
	Models     []modelEntry `json:"models"`
	Default    string       `json:"default"`
	ClassNames []string     `json:"class_names"`
}

type modelEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.classifier.Models()
	entries := make([]modelEntry, 0, len(models))
	var defaultID string
	for _, m := range models {
		entries = append(entries, modelEntry{ID: m.ID, Name: m.Name})
		// The fine-tuned model is the default selection when present.
		if defaultID == "" || m.ID == assets.DefaultModelID {
			defaultID = m.ID
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelsResponse{
		Models:     entries,
		Default:    defaultID,
		ClassNames: h.classifier.ClassNames(),
	})
}

// Classify handles direct multi-image upload: multipart form with one
// or more "images" files plus the dashboard toggles as form fields.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.runBatch(w, r)
	if !ok {
		return
	}
	h.writeBatch(w, r, batch)
}

// ClassifyZip handles ZIP batch upload: multipart form with a single
// "archive" file.
func (h *Handler) ClassifyZip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("archive")
	if err != nil {
		respondError(w, "No ZIP file provided. Use 'archive' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	slog.Info("received zip", "file", header.Filename, "size", header.Size)

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read ZIP file", http.StatusBadRequest)
		return
	}

	batch, err := h.classifier.ClassifyZip(r.FormValue("model"), data)
	if err != nil {
		h.batchError(w, err)
		return
	}
	h.writeBatch(w, r, batch)
}

// ClassifyCSV runs the same direct-upload pipeline but returns the
// result table as a CSV attachment.
func (h *Handler) ClassifyCSV(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.runBatch(w, r)
	if !ok {
		return
	}

	table := batch.Table.Sorted()
	if parseBool(r.FormValue("only_low")) {
		table = table.OnlyLow()
	}

	data, err := table.CSV()
	if err != nil {
		slog.Error("CSV export failed", "err", err)
		respondError(w, "Failed to export CSV", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=sawit_predictions_%s.csv", batch.ID))
	w.Write(data)
}

// Dashboard serves the embedded single-page UI.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		respondError(w, "Dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request) (*service.Batch, bool) {
	if r.Method != http.MethodPost {
		respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return nil, false
	}

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File["images"]
	}
	if len(files) == 0 {
		respondError(w, "No image files provided. Use 'images' as the form field name", http.StatusBadRequest)
		return nil, false
	}

	uploads := make([]service.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			continue
		}
		uploads = append(uploads, service.Upload{Name: fh.Filename, Data: data})
	}

	batch, err := h.classifier.ClassifyUploads(r.FormValue("model"), uploads)
	if err != nil {
		h.batchError(w, err)
		return nil, false
	}
	return batch, true
}

func (h *Handler) batchError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNoValidImages) {
		respondError(w, "No valid images found. Make sure the input contains JPG/PNG files", http.StatusUnprocessableEntity)
		return
	}
	slog.Error("classification failed", "err", err)
	respondError(w, "Classification failed", http.StatusInternalServerError)
}

func (h *Handler) writeBatch(w http.ResponseWriter, r *http.Request, batch *service.Batch) {
	table := batch.Table.Sorted()
	if parseBool(r.FormValue("only_low")) {
		table = table.OnlyLow()
	}

	threshold := 0.55
	if v, err := strconv.ParseFloat(r.FormValue("threshold"), 64); err == nil {
		threshold = v
	}

	resp := ClassifyResponse{
		BatchID:     batch.ID,
		Model:       batch.ModelID,
		ModelName:   batch.ModelName,
		Summary:     table.Summary(),
		Rows:        table.Rows,
		LabelCounts: table.LabelCounts(),
		LevelCounts: table.LevelCounts(),
		Threshold:   threshold,
	}

	for i, row := range table.Rows {
		if i >= previewLimit {
			break
		}
		resp.Previews = append(resp.Previews, Preview{
			Filename:   row.Filename,
			PredLabel:  row.PredLabel,
			Confidence: row.Confidence,
			Margin:     row.Margin,
			Level:      row.Level,
		})
	}

	for _, row := range table.Rows {
		if row.Level != scoring.LevelLow {
			continue
		}
		if resp.Insights == nil {
			resp.Insights = make(map[string]string)
		}
		resp.Insights[row.Filename] = scoring.LowConfidenceInsight(row.Top1, row.Top2)
	}
	if len(resp.Insights) > 0 {
		resp.Advice = scoring.RetakeAdvice
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Error("Failed to encode error response", "err", err)
	}
}
