package upocr

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// capturedRequest is what the mock backend saw of the last upload.
type capturedRequest struct {
	method      string
	auth        string
	apiKey      string
	image       []byte
	imageType   string
	hasRedact   bool
	redact      string
	userAgent   string
	contentType string
}

// mockBackend stands in for the OCR API and answers every upload with body.
type mockBackend struct {
	server *httptest.Server
	status int
	body   []byte
	delay  time.Duration

	mu   sync.Mutex
	last capturedRequest
	hits int
}

func newMockBackend(t *testing.T, status int, body []byte) *mockBackend {
	m := &mockBackend{status: status, body: body}
	m.server = httptest.NewServer(http.HandlerFunc(m.serveHTTP))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockBackend) serveHTTP(w http.ResponseWriter, r *http.Request) {
	captured := capturedRequest{
		method:      r.Method,
		auth:        r.Header.Get("Authorization"),
		apiKey:      r.Header.Get("X-Api-Key"),
		userAgent:   r.Header.Get("User-Agent"),
		contentType: r.Header.Get("Content-Type"),
	}
	if err := r.ParseMultipartForm(10 << 20); err == nil {
		if file, header, err := r.FormFile("image"); err == nil {
			captured.image, _ = io.ReadAll(file)
			captured.imageType = header.Header.Get("Content-Type")
			file.Close()
		}
		if values, ok := r.MultipartForm.Value["redact"]; ok && len(values) > 0 {
			captured.hasRedact = true
			captured.redact = values[0]
		}
	}

	m.mu.Lock()
	m.last = captured
	m.hits++
	body := m.body
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(m.status)
	_, _ = w.Write(body)
}

func (m *mockBackend) setBody(body []byte) {
	m.mu.Lock()
	m.body = body
	m.mu.Unlock()
}

func (m *mockBackend) lastRequest() (capturedRequest, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hits
}

// encodedResultBody wraps inner the way the legacy OCR endpoint does: as a JSON string
// inside ocrResult.result.
func encodedResultBody(t *testing.T, inner string) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"ocrResult": map[string]interface{}{"result": inner},
	})
	if err != nil {
		t.Fatalf("failed to build encoded result: %v", err)
	}
	return body
}

const encodedInnerTwoWords = `{
	"document_confidence": 0.97,
	"words": {
		"7": {"transcription": "Upstage", "points": [[10.9, 20.2], [60.5, 20], [60, 35.7], [10, 35]]},
		"2": {"transcription": "OCR", "points": [[70, 20], [100, 20], [100, 35], [70, 35]]}
	}
}`

const pagesTwoWords = `{
	"confidence": 0.99,
	"redacted": false,
	"pages": [
		{"id": 1, "words": [
			{"text": "A", "confidence": 0.99, "boundingBox": {"vertices": [{"x": 0, "y": 0}, {"x": 10, "y": 0}, {"x": 10, "y": 5}, {"x": 0, "y": 5}]}}
		]},
		{"id": 2, "words": [
			{"text": "B", "confidence": 0.98, "boundingBox": {"vertices": [{"x": 12.7, "y": 0}, {"x": 20}, {"x": 20, "y": 5}, {"y": 5}]}}
		]}
	]
}`

func pagesResponse(t *testing.T, body string) *OCRResponse {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return &OCRResponse{Raw: []byte(body), Data: data}
}

func encodedResponse(t *testing.T, inner string) *OCRResponse {
	raw := encodedResultBody(t, inner)
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return &OCRResponse{Raw: raw, Data: data}
}
