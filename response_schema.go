package upocr

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Schema names the layout of a backend response: where the confidence lives and
// how words and their geometry are encoded.
type Schema int

const (
	// SchemaAuto lets the client variant pick its schema.
	SchemaAuto = Schema(iota)
	// SchemaEncodedResult: ocrResult.result is a JSON string holding document_confidence
	// and a word-id keyed "words" object with point lists.
	SchemaEncodedResult
	// SchemaPages: top-level confidence and pages[].words[] with four-vertex boxes.
	SchemaPages
)

func (s Schema) String() string {
	switch s {
	case SchemaAuto:
		return "auto"
	case SchemaEncodedResult:
		return "encoded_result"
	case SchemaPages:
		return "pages"
	}
	return ""
}

func ParseSchema(s string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return SchemaAuto, nil
	case "encoded_result", "legacy":
		return SchemaEncodedResult, nil
	case "pages":
		return SchemaPages, nil
	}
	return SchemaAuto, errors.Errorf("unknown response schema %q", s)
}

func (s *Schema) UnmarshalJSON(b []byte) error {
	var schemaStr string
	if err := json.Unmarshal(b, &schemaStr); err == nil {
		parsed, err := ParseSchema(schemaStr)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var schemaInt int
	if err := json.Unmarshal(b, &schemaInt); err != nil {
		return err
	}
	*s = Schema(schemaInt)
	return nil
}

// WordBox is one recognized word together with its bounding geometry in integer pixels.
type WordBox struct {
	Text        string   `json:"text"`
	Coordinates [][2]int `json:"coordinates"`
}

type schemaExtractor struct {
	confidence        func(raw []byte) (*float64, error)
	words             func(raw []byte) ([]WordBox, error)
	supportsRedaction bool
}

var schemaExtractors = map[Schema]schemaExtractor{
	SchemaEncodedResult: {
		confidence: encodedResultConfidence,
		words:      encodedResultWords,
	},
	SchemaPages: {
		confidence:        pagesConfidence,
		words:             pagesWords,
		supportsRedaction: true,
	},
}

func (s Schema) extractor() (schemaExtractor, error) {
	ex, ok := schemaExtractors[s]
	if !ok {
		return schemaExtractor{}, errors.Errorf("no extractor for response schema %q", s)
	}
	return ex, nil
}

// SupportsRedaction reports whether the backend behind s accepts the redact form field.
func (s Schema) SupportsRedaction() bool {
	ex, err := s.extractor()
	return err == nil && ex.supportsRedaction
}

// encodedResult parses the JSON document carried as a string in ocrResult.result.
func encodedResult(raw []byte) (gjson.Result, error) {
	res := gjson.GetBytes(raw, "ocrResult.result")
	switch {
	case !res.Exists():
		return gjson.Result{}, badResponse(nil, "response has no ocrResult.result")
	case res.IsObject():
		return res, nil
	case res.Type != gjson.String:
		return gjson.Result{}, badResponse(nil, "ocrResult.result is neither a string nor an object")
	}

	inner := res.String()
	if !gjson.Valid(inner) {
		return gjson.Result{}, badResponse(nil, "ocrResult.result does not hold valid JSON")
	}
	return gjson.Parse(inner), nil
}

func numberOrNull(res gjson.Result, field string) (*float64, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	if res.Type != gjson.Number {
		return nil, badResponse(nil, field+" is not a number")
	}
	score := res.Float()
	return &score, nil
}

func encodedResultConfidence(raw []byte) (*float64, error) {
	inner, err := encodedResult(raw)
	if err != nil {
		return nil, err
	}
	return numberOrNull(inner.Get("document_confidence"), "document_confidence")
}

func encodedResultWords(raw []byte) ([]WordBox, error) {
	inner, err := encodedResult(raw)
	if err != nil {
		return nil, err
	}
	words := inner.Get("words")
	if !words.IsObject() && !words.IsArray() {
		return nil, badResponse(nil, "encoded result has no words")
	}

	// ForEach walks object keys in document order
	boxes := []WordBox{}
	var walkErr error
	words.ForEach(func(id, word gjson.Result) bool {
		box := WordBox{Text: word.Get("transcription").String(), Coordinates: [][2]int{}}
		for _, point := range word.Get("points").Array() {
			xy := point.Array()
			if len(xy) < 2 {
				walkErr = badResponse(nil, "word "+id.String()+" has a malformed point")
				return false
			}
			box.Coordinates = append(box.Coordinates, [2]int{int(xy[0].Float()), int(xy[1].Float())})
		}
		boxes = append(boxes, box)
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return boxes, nil
}

func pagesConfidence(raw []byte) (*float64, error) {
	return numberOrNull(gjson.GetBytes(raw, "confidence"), "confidence")
}

func pagesWords(raw []byte) ([]WordBox, error) {
	pages := gjson.GetBytes(raw, "pages")
	if !pages.IsArray() {
		return nil, badResponse(nil, "response has no pages")
	}

	boxes := []WordBox{}
	for _, page := range pages.Array() {
		for _, word := range page.Get("words").Array() {
			box := WordBox{Text: word.Get("text").String(), Coordinates: [][2]int{}}
			// missing x or y reads as 0
			for _, vertex := range word.Get("boundingBox.vertices").Array() {
				box.Coordinates = append(box.Coordinates,
					[2]int{int(vertex.Get("x").Float()), int(vertex.Get("y").Float())})
			}
			boxes = append(boxes, box)
		}
	}
	return boxes, nil
}
