package model

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/assets"
)

// Registry memoizes ONNX sessions per model selection. Each model is
// loaded at most once per process; the cached sessions are read-only
// after creation.
type Registry struct {
	catalog assets.Catalog

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry over the given catalog.
// No model is loaded until the first Get for its ID.
func NewRegistry(catalog assets.Catalog) *Registry {
	return &Registry{
		catalog:  catalog,
		sessions: make(map[string]*Session),
	}
}

// Get returns the cached session for the given model ID, loading it
// on first use.
func (r *Registry) Get(id string) (Predictor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	spec, ok := r.catalog.Model(id)
	if !ok {
		return nil, fmt.Errorf("unknown model: %q", id)
	}

	start := time.Now()
	s, err := NewSession(spec.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", spec.Name, err)
	}
	slog.Info("model loaded", "model", spec.Name, "file", spec.File, "took", time.Since(start))

	r.sessions[id] = s
	return s, nil
}

// Close releases every loaded session and the ONNX environment.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
	ort.DestroyEnvironment()
}
