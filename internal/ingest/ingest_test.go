package ingest

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/model"
)

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func buildZip(t *testing.T, entries map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestAllowedExtension(t *testing.T) {
	assert.True(t, AllowedExtension("photo.jpg"))
	assert.True(t, AllowedExtension("photo.JPEG"))
	assert.True(t, AllowedExtension("dir/photo.PNG"))
	assert.False(t, AllowedExtension("notes.txt"))
	assert.False(t, AllowedExtension("archive.zip"))
	assert.False(t, AllowedExtension("photo"))
}

func TestDecode(t *testing.T) {
	img, err := Decode(pngBytes(t, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestFromZip(t *testing.T) {
	order := []string{"a.jpg", "b.txt", "sub/c.png", "d.jpg"}
	archive := buildZip(t, map[string][]byte{
		"a.jpg":     jpegBytes(t),
		"b.txt":     []byte("just text"),
		"sub/c.png": pngBytes(t, color.RGBA{G: 255, A: 255}),
		"d.jpg":     []byte("corrupted jpeg data"),
	}, order)

	items, err := FromZip(archive)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Non-image b.txt and corrupt d.jpg are dropped; path on c.png is
	// stripped; archive order preserved.
	assert.Equal(t, "a.jpg", items[0].Name)
	assert.Equal(t, "c.png", items[1].Name)
	assert.NotNil(t, items[0].Image)
	assert.NotNil(t, items[1].Image)
}

func TestFromZip_SkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, err := w.Create("images/")
	require.NoError(t, err)
	f, err := w.Create("images/x.png")
	require.NoError(t, err)
	_, err = f.Write(pngBytes(t, color.RGBA{B: 255, A: 255}))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	items, err := FromZip(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x.png", items[0].Name)
}

func TestFromZip_InvalidArchive(t *testing.T) {
	_, err := FromZip([]byte("this is not a zip"))
	assert.Error(t, err)
}

func TestFromZip_EmptyResult(t *testing.T) {
	archive := buildZip(t, map[string][]byte{"readme.md": []byte("no images")}, []string{"readme.md"})
	items, err := FromZip(archive)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPreprocess(t *testing.T) {
	img, err := Decode(pngBytes(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}))
	require.NoError(t, err)

	input := Preprocess(img)
	require.Len(t, input, model.InputLength)

	// Solid-color image: every pixel keeps its raw 0-255 channel
	// values in R,G,B order.
	assert.InDelta(t, 200, input[0], 1)
	assert.InDelta(t, 100, input[1], 1)
	assert.InDelta(t, 50, input[2], 1)

	for _, v := range input {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(255))
	}
}

func TestPreprocess_NonSquareInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 16))
	input := Preprocess(img)
	assert.Len(t, input, model.InputLength)
}
