package upocr

import (
	"encoding/json"
	"strings"
)

// Target selects the projection Request returns.
type Target int

const (
	TargetFull = Target(iota)
	TargetText
	TargetTextWithCoords
)

func (t Target) String() string {
	switch t {
	case TargetFull:
		return "full"
	case TargetText:
		return "text"
	case TargetTextWithCoords:
		return "text_with_coords"
	}
	return ""
}

// ParseTarget never fails: anything that is not a known projection means the full payload.
func ParseTarget(s string) Target {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return TargetText
	case "text_with_coords":
		return TargetTextWithCoords
	}
	return TargetFull
}

func (t *Target) UnmarshalJSON(b []byte) error {
	var targetStr string
	if err := json.Unmarshal(b, &targetStr); err == nil {
		*t = ParseTarget(targetStr)
		return nil
	}

	// not a string .. maybe it's an int or null
	var targetInt *int
	if err := json.Unmarshal(b, &targetInt); err != nil {
		return err
	}
	if targetInt == nil {
		*t = TargetFull
		return nil
	}
	*t = Target(*targetInt)
	return nil
}

// OCRResponse is the decoded backend answer. Raw is kept so schema extractors can walk
// it in document order.
type OCRResponse struct {
	Raw  []byte
	Data map[string]interface{}
}

// ShapedResult holds exactly one of Full, Text or Words, depending on Target.
type ShapedResult struct {
	Target Target
	Full   map[string]interface{}
	Text   string
	Words  []WordBox
}

// Value returns the populated member.
func (r *ShapedResult) Value() interface{} {
	switch r.Target {
	case TargetText:
		return r.Text
	case TargetTextWithCoords:
		return r.Words
	}
	return r.Full
}

func (r ShapedResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value())
}

// Shape projects resp onto target. Word order is the order the backend returned.
func Shape(resp *OCRResponse, schema Schema, target Target) (*ShapedResult, error) {
	switch target {
	case TargetText, TargetTextWithCoords:
	default:
		return &ShapedResult{Target: TargetFull, Full: resp.Data}, nil
	}

	ex, err := schema.extractor()
	if err != nil {
		return nil, err
	}
	words, err := ex.words(resp.Raw)
	if err != nil {
		return nil, err
	}

	if target == TargetTextWithCoords {
		return &ShapedResult{Target: target, Words: words}, nil
	}

	texts := make([]string, 0, len(words))
	for _, w := range words {
		texts = append(texts, w.Text)
	}
	return &ShapedResult{Target: target, Text: strings.Join(texts, " ")}, nil
}
