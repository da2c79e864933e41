// Package service orchestrates the full pipeline: ingest, inference,
// interpretation and tabulation.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/assets"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/ingest"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/model"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/report"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/scoring"
)

// ErrNoValidImages is returned when ingestion yields zero decodable
// images. Not fatal, the user can retry with different input.
var ErrNoValidImages = errors.New("no valid images found in input")

// MissingAssetsError lists every expected asset file that is absent.
type MissingAssetsError struct {
	Paths []string
}

func (e *MissingAssetsError) Error() string {
	return fmt.Sprintf("missing model assets:\n  %s", strings.Join(e.Paths, "\n  "))
}

// ModelProvider hands out a Predictor per model ID. The production
// implementation is model.Registry.
type ModelProvider interface {
	Get(id string) (model.Predictor, error)
	Close()
}

// Classifier ties the asset catalog, class names and model provider
// together. Safe to share across requests: the catalog and class
// names are read-only after construction.
type Classifier struct {
	catalog    assets.Catalog
	classNames []string
	provider   ModelProvider
}

// New validates the catalog assets and loads the class-name list.
// Every missing path is reported at once via MissingAssetsError.
func New(catalog assets.Catalog, provider ModelProvider) (*Classifier, error) {
	if missing := catalog.Validate(); len(missing) > 0 {
		return nil, &MissingAssetsError{Paths: missing}
	}

	classNames, err := assets.LoadClassNames(catalog.ClassNamesPath)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		catalog:    catalog,
		classNames: classNames,
		provider:   provider,
	}, nil
}

// Models lists the selectable models.
func (c *Classifier) Models() []assets.ModelSpec {
	return c.catalog.Models
}

// ClassNames returns the ordered ripeness class list.
func (c *Classifier) ClassNames() []string {
	return c.classNames
}

// Upload is one user-uploaded file, held fully in memory.
type Upload struct {
	Name string
	Data []byte
}

// Batch is the outcome of one classification run.
type Batch struct {
	ID        string
	ModelID   string
	ModelName string
	Table     report.Table
}

// ClassifyUploads runs every decodable upload through the selected
// model, in arrival order. Files with disallowed extensions or that
// fail to decode are silently skipped.
func (c *Classifier) ClassifyUploads(modelID string, uploads []Upload) (*Batch, error) {
	var items []ingest.Item
	for _, u := range uploads {
		if !ingest.AllowedExtension(u.Name) {
			continue
		}
		img, err := ingest.Decode(u.Data)
		if err != nil {
			slog.Debug("skipping undecodable upload", "file", u.Name)
			continue
		}
		items = append(items, ingest.Item{Name: u.Name, Image: img})
	}
	return c.classify(modelID, items, nil)
}

// ClassifyZip extracts images from an in-memory ZIP archive and
// classifies each one.
func (c *Classifier) ClassifyZip(modelID string, zipData []byte) (*Batch, error) {
	items, err := ingest.FromZip(zipData)
	if err != nil {
		return nil, err
	}
	return c.classify(modelID, items, nil)
}

// ClassifyItems classifies already-decoded images. progress, if
// non-nil, is called after each image; the CLI uses it to drive its
// progress bar.
func (c *Classifier) ClassifyItems(modelID string, items []ingest.Item, progress func()) (*Batch, error) {
	return c.classify(modelID, items, progress)
}

func (c *Classifier) classify(modelID string, items []ingest.Item, progress func()) (*Batch, error) {
	if modelID == "" {
		modelID = assets.DefaultModelID
	}
	spec, ok := c.catalog.Model(modelID)
	if !ok {
		return nil, fmt.Errorf("unknown model: %q", modelID)
	}

	if len(items) == 0 {
		return nil, ErrNoValidImages
	}

	predictor, err := c.provider.Get(modelID)
	if err != nil {
		return nil, err
	}

	rows := make([]report.Row, 0, len(items))
	for _, item := range items {
		pred, err := scoring.Classify(predictor, item.Image, c.classNames)
		if err != nil {
			return nil, fmt.Errorf("failed to classify %s: %w", item.Name, err)
		}
		rows = append(rows, report.NewRow(item.Name, pred, c.classNames))
		if progress != nil {
			progress()
		}
	}

	batch := &Batch{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		ModelName: spec.Name,
		Table:     report.Table{Rows: rows},
	}
	slog.Info("batch classified", "batch", batch.ID, "model", spec.Name, "images", len(rows))
	return batch, nil
}

// Close releases all loaded models.
func (c *Classifier) Close() {
	c.provider.Close()
}
