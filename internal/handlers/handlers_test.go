package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/assets"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/model"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/service"
)

type fakeProvider struct {
	probs []float32
}

func (f *fakeProvider) Get(id string) (model.Predictor, error) {
	return &fakePredictor{probs: f.probs}, nil
}

func (f *fakeProvider) Close() {}

type fakePredictor struct {
	probs []float32
}

func (f *fakePredictor) Predict(input []float32) ([]float32, error) {
	out := make([]float32, len(f.probs))
	copy(out, f.probs)
	return out, nil
}

func testHandler(t *testing.T, probs []float32) *Handler {
	t.Helper()
	dir := t.TempDir()
	catalog := assets.DefaultCatalog(dir)

	require.NoError(t, os.WriteFile(catalog.ClassNamesPath,
		[]byte(`["unripe","underripe","partially_ripe","fully_ripe","overripe"]`), 0644))
	for _, m := range catalog.Models {
		require.NoError(t, os.WriteFile(m.File, []byte("onnx stub"), 0644))
	}

	classifier, err := service.New(catalog, &fakeProvider{probs: probs})
	require.NoError(t, err)
	t.Cleanup(classifier.Close)
	return NewHandler(classifier)
}

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, files []formFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestModels(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"models"`
		Default    string   `json:"default"`
		ClassNames []string `json:"class_names"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Len(t, resp.Models, 3)
	assert.Equal(t, "efficientnetb0", resp.Default)
	assert.Len(t, resp.ClassNames, 5)
}

func TestClassify(t *testing.T) {
	h := testHandler(t, []float32{0.05, 0.10, 0.60, 0.20, 0.05})

	body, contentType := multipartBody(t,
		[]formFile{
			{field: "images", name: "a.png", data: pngData(t)},
			{field: "images", name: "b.png", data: pngData(t)},
			{field: "images", name: "skip.txt", data: []byte("text")},
		},
		map[string]string{"model": "base_cnn", "threshold": "0.6"})

	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Classify(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, "base_cnn", resp.Model)
	assert.Equal(t, 2, resp.Summary.Total)
	assert.Equal(t, 2, resp.Summary.Medium)
	assert.Len(t, resp.Rows, 2)
	assert.Len(t, resp.Previews, 2)
	assert.Equal(t, map[string]int{"partially_ripe": 2}, resp.LabelCounts)
	assert.Equal(t, 0.6, resp.Threshold)
	assert.Empty(t, resp.Insights)
}

func TestClassify_LowConfidenceInsights(t *testing.T) {
	// partially_ripe vs fully_ripe with a tiny margin: LOW bucket and
	// the class-overlap insight.
	h := testHandler(t, []float32{0.02, 0.03, 0.49, 0.44, 0.02})

	body, contentType := multipartBody(t,
		[]formFile{{field: "images", name: "ambiguous.png", data: pngData(t)}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Classify(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.Summary.Low)
	require.Contains(t, resp.Insights, "ambiguous.png")
	assert.Contains(t, resp.Insights["ambiguous.png"], "partially_ripe")
	assert.Len(t, resp.Advice, 4)
}

func TestClassify_OnlyLowFilter(t *testing.T) {
	// HIGH-confidence vector: the only_low filter empties the table.
	h := testHandler(t, []float32{0.90, 0.04, 0.03, 0.02, 0.01})

	body, contentType := multipartBody(t,
		[]formFile{{field: "images", name: "a.png", data: pngData(t)}},
		map[string]string{"only_low": "true"})

	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Classify(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Summary.Total)
	assert.Empty(t, resp.Rows)
}

func TestClassify_NoFiles(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	body, contentType := multipartBody(t, nil, map[string]string{"model": "base_cnn"})
	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Classify(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestClassify_NoValidImages(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	body, contentType := multipartBody(t,
		[]formFile{{field: "images", name: "broken.jpg", data: []byte("not an image")}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Classify(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestClassify_MethodNotAllowed(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	rec := httptest.NewRecorder()
	h.Classify(rec, httptest.NewRequest(http.MethodGet, "/api/classify", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClassifyZip(t *testing.T) {
	h := testHandler(t, []float32{0.85, 0.05, 0.04, 0.03, 0.03})

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	f, err := zw.Create("photos/one.png")
	require.NoError(t, err)
	_, err = f.Write(pngData(t))
	require.NoError(t, err)
	f, err = zw.Create("photos/skip.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("text"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body, contentType := multipartBody(t,
		[]formFile{{field: "archive", name: "batch.zip", data: zipBuf.Bytes()}},
		map[string]string{"model": "mobilenetv2"})

	req := httptest.NewRequest(http.MethodPost, "/api/classify/zip", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ClassifyZip(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "one.png", resp.Rows[0].Filename)
	assert.Equal(t, "unripe", resp.Rows[0].PredLabel)
}

func TestClassifyZip_MissingArchive(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	body, contentType := multipartBody(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/classify/zip", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ClassifyZip(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyCSV(t *testing.T) {
	h := testHandler(t, []float32{0.05, 0.10, 0.60, 0.20, 0.05})

	body, contentType := multipartBody(t,
		[]formFile{{field: "images", name: "a.png", data: pngData(t)}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/classify/csv", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ClassifyCSV(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "filename,pred_label,confidence,margin_top1_top2,confidence_level,top3", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "a.png,partially_ripe,0.6000,0.4000,MEDIUM,"))
}

func TestDashboard(t *testing.T) {
	h := testHandler(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2})

	rec := httptest.NewRecorder()
	h.Dashboard(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Sawit Ripeness Classifier")

	rec = httptest.NewRecorder()
	h.Dashboard(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
