package upocr

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchbaselabs/go.assert"
	"github.com/pkg/errors"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestNormalizeBytesIsIdentity(t *testing.T) {
	inputs := [][]byte{pngHeader, []byte("plain text is fine too"), {}}
	for _, in := range inputs {
		out, err := Normalize(ImageFromBytes(in))
		assert.True(t, err == nil)
		assert.True(t, bytes.Equal(out, in))
	}
}

func TestNormalizeEmptyBytesPassThrough(t *testing.T) {
	out, err := Normalize(ImageFromBytes([]byte{}))
	assert.True(t, err == nil)
	assert.Equals(t, len(out), 0)
}

func TestNormalizePath(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "receipt.png")
	if err := os.WriteFile(imgPath, pngHeader, 0600); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	out, err := Normalize(ImageFromPath(imgPath))
	assert.True(t, err == nil)
	assert.True(t, bytes.Equal(out, pngHeader))

	// the duck-typed entry point picks the path too
	in := ImageFromString(imgPath)
	assert.Equals(t, in.Kind(), ImageKindPath)
	out, err = Normalize(in)
	assert.True(t, err == nil)
	assert.True(t, bytes.Equal(out, pngHeader))
}

func TestNormalizeMissingPath(t *testing.T) {
	_, err := Normalize(ImageFromPath(filepath.Join(t.TempDir(), "missing.png")))
	var invalid *InvalidInputError
	assert.True(t, errors.As(err, &invalid))
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestNormalizeBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngHeader)
	testInputs := []string{
		encoded,
		"data:image/png;base64," + encoded,
		"odd,header,with,commas," + encoded,
		"data:image/png;base64," + base64.RawStdEncoding.EncodeToString(pngHeader),
		encoded + "\n",
	}
	for _, s := range testInputs {
		in := ImageFromString(s)
		assert.Equals(t, in.Kind(), ImageKindBase64)
		out, err := Normalize(in)
		assert.True(t, err == nil)
		assert.True(t, bytes.Equal(out, pngHeader))
	}
}

func TestNormalizeInvalidBase64(t *testing.T) {
	_, err := Normalize(ImageFromString("data:image/png;base64,this is *not* base64!"))
	assert.True(t, err != nil)

	var invalid *InvalidInputError
	assert.True(t, errors.As(err, &invalid))

	// the decoder error survives the wrapping
	var corrupt base64.CorruptInputError
	assert.True(t, errors.As(err, &corrupt))
	_, isCorrupt := errors.Cause(err).(base64.CorruptInputError)
	assert.True(t, isCorrupt)
}

func TestNormalizeUnpaddedWithoutHeader(t *testing.T) {
	testInputs := []string{
		base64.RawStdEncoding.EncodeToString(pngHeader),
		// a mistyped path is valid base64 alphabet but not padded
		"/tmp/missingpng",
	}
	for _, s := range testInputs {
		in := ImageFromString(s)
		assert.Equals(t, in.Kind(), ImageKindBase64)
		out, err := Normalize(in)
		assert.True(t, out == nil)
		var invalid *InvalidInputError
		assert.True(t, errors.As(err, &invalid))
	}
}

func TestNormalizeUnknownKind(t *testing.T) {
	_, err := Normalize(ImageInput{kind: ImageKind(42)})
	var invalid *InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestImageFromStringDirectoryIsNotAPath(t *testing.T) {
	in := ImageFromString(t.TempDir())
	assert.Equals(t, in.Kind(), ImageKindBase64)
}
