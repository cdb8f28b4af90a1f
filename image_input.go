package upocr

import (
	"encoding/base64"
	"os"
	"strings"
)

type ImageKind int

const (
	ImageKindBytes = ImageKind(iota)
	ImageKindPath
	ImageKindBase64
)

func (k ImageKind) String() string {
	switch k {
	case ImageKindBytes:
		return "bytes"
	case ImageKindPath:
		return "path"
	case ImageKindBase64:
		return "base64"
	}
	return ""
}

// ImageInput is what a caller hands to Request: raw bytes, a file path or a base64
// string, optionally carrying a data URI header. It is never modified.
type ImageInput struct {
	kind ImageKind
	data []byte
	text string
}

func ImageFromBytes(b []byte) ImageInput {
	return ImageInput{kind: ImageKindBytes, data: b}
}

func ImageFromPath(path string) ImageInput {
	return ImageInput{kind: ImageKindPath, text: path}
}

func ImageFromBase64(encoded string) ImageInput {
	return ImageInput{kind: ImageKindBase64, text: encoded}
}

// ImageFromString treats s as a path when it names an existing regular file,
// otherwise as base64.
func ImageFromString(s string) ImageInput {
	if isRegularFile(s) {
		return ImageFromPath(s)
	}
	return ImageFromBase64(s)
}

func (in ImageInput) Kind() ImageKind {
	return in.kind
}

// Normalize returns the bytes to be uploaded for in.
// Bytes pass through untouched, including an empty slice.
func Normalize(in ImageInput) ([]byte, error) {
	switch in.kind {
	case ImageKindBytes:
		return in.data, nil
	case ImageKindPath:
		data, err := os.ReadFile(in.text)
		if err != nil {
			return nil, invalidInput(err, "reading image file %q", in.text)
		}
		return data, nil
	case ImageKindBase64:
		return decodeBase64Image(in.text)
	}
	return nil, invalidInput(nil, "unknown image input kind %d", int(in.kind))
}

// decodeBase64Image drops everything up to the last comma (data URI header) and
// decodes the rest. Unpadded input is only accepted behind a header, bare strings
// must be padded so a mistyped filename is not taken for an image.
func decodeBase64Image(s string) ([]byte, error) {
	idx := strings.LastIndex(s, ",")
	hasHeader := idx != -1
	if hasHeader {
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if hasHeader {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return raw, nil
		}
	}
	return nil, invalidInput(err, "image must be a filename, byte string, or base64 string")
}
