// Package ingest turns uploaded files and ZIP archives into decoded
// images and model input tensors. Nothing is ever written to disk;
// all decoding happens against in-memory byte streams.
package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	"github.com/nfnt/resize"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/model"
)

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// AllowedExtension reports whether the filename carries a supported
// image extension. The check is case-insensitive.
func AllowedExtension(name string) bool {
	return allowedExt[strings.ToLower(path.Ext(name))]
}

// Item is one decoded input image with its display name.
type Item struct {
	Name  string
	Image image.Image
}

// Decode parses raw bytes as a JPEG or PNG image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// FromZip extracts every decodable image from an in-memory ZIP
// archive. Directories are skipped, entries are filtered by the
// extension allow-list, and entries that fail to decode are silently
// dropped. The display name is the entry's base filename; archive
// iteration order is preserved.
func FromZip(data []byte) ([]Item, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}

	var items []Item
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !AllowedExtension(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			continue
		}
		img, _, err := image.Decode(rc)
		rc.Close()
		if err != nil {
			continue
		}

		items = append(items, Item{Name: path.Base(f.Name), Image: img})
	}
	return items, nil
}

// Preprocess converts a decoded image into the model input tensor:
// fixed 160x160 resize (no aspect-ratio preservation, matching the
// training pipeline), RGB channels in HWC order, raw 0-255 values.
func Preprocess(img image.Image) []float32 {
	resized := resize.Resize(model.ImageSize, model.ImageSize, img, resize.Lanczos3)

	input := make([]float32, model.InputLength)
	i := 0
	for y := 0; y < model.ImageSize; y++ {
		for x := 0; x < model.ImageSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			input[i] = float32(r >> 8)
			input[i+1] = float32(g >> 8)
			input[i+2] = float32(b >> 8)
			i += 3
		}
	}
	return input
}
