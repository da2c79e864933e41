package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NumClasses is the size of every model's output vector and of the
// class-name list. The three models were all trained on the same
// 5-class ripeness dataset.
const NumClasses = 5

// ModelSpec describes one selectable classifier.
type ModelSpec struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	File string `yaml:"file" json:"file"`
}

// Catalog lists the available model artifacts and the shared class-name file.
type Catalog struct {
	ClassNamesPath string      `yaml:"class_names"`
	Models         []ModelSpec `yaml:"models"`
}

// DefaultModelID matches the dashboard's default selection.
const DefaultModelID = "efficientnetb0"

// DefaultCatalog returns the built-in model layout rooted at dir.
func DefaultCatalog(dir string) Catalog {
	return Catalog{
		ClassNamesPath: filepath.Join(dir, "class_names.json"),
		Models: []ModelSpec{
			{ID: "base_cnn", Name: "Base CNN (Non-pretrained)", File: filepath.Join(dir, "model_base_cnn.onnx")},
			{ID: "mobilenetv2", Name: "MobileNetV2 (Pretrained - Freeze)", File: filepath.Join(dir, "model_mobilenetv2.onnx")},
			{ID: "efficientnetb0", Name: "EfficientNetB0 (Pretrained - Fine-tune)", File: filepath.Join(dir, "model_efficientnetb0_ft.onnx")},
		},
	}
}

// LoadManifest reads a catalog from a YAML manifest file.
func LoadManifest(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if c.ClassNamesPath == "" {
		return Catalog{}, fmt.Errorf("manifest is missing class_names")
	}
	if len(c.Models) == 0 {
		return Catalog{}, fmt.Errorf("manifest lists no models")
	}

	return c, nil
}

// Model looks up a model by its ID.
func (c Catalog) Model(id string) (ModelSpec, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// Validate checks that every asset file exists and returns the full
// list of missing paths. All paths are checked so a broken deployment
// can be fixed in one pass.
func (c Catalog) Validate() []string {
	var missing []string
	if _, err := os.Stat(c.ClassNamesPath); err != nil {
		missing = append(missing, c.ClassNamesPath)
	}
	for _, m := range c.Models {
		if _, err := os.Stat(m.File); err != nil {
			missing = append(missing, fmt.Sprintf("%s -> %s", m.Name, m.File))
		}
	}
	return missing
}

// LoadClassNames reads the ordered class-name list. The order is
// index-aligned with the model output vector and must not be changed.
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse class names: %w", err)
	}

	if len(names) != NumClasses {
		return nil, fmt.Errorf("expected %d class names, got %d", NumClasses, len(names))
	}

	return names, nil
}
