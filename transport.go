package upocr

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

const (
	userAgent         = "up-ocr-client/0.1"
	defaultAuthHeader = "Authorization"
	maxErrorBodyBytes = 512
)

type transport struct {
	endpoint   string
	apiKey     string
	authHeader string
	// nil when the schema has no redact field
	redact     *bool
	httpClient *http.Client
}

func newTransport(cfg ClientConfig, redactSupported bool) *transport {
	t := &transport{
		endpoint:   cfg.URL,
		apiKey:     cfg.APIKey,
		authHeader: cfg.AuthHeader,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if t.authHeader == "" {
		t.authHeader = defaultAuthHeader
	}
	if redactSupported {
		redact := cfg.Redact
		t.redact = &redact
	}
	return t
}

func (t *transport) setAuth(req *http.Request) {
	if http.CanonicalHeaderKey(t.authHeader) == defaultAuthHeader {
		req.Header.Set(defaultAuthHeader, "Bearer "+t.apiKey)
		return
	}
	req.Header.Set(t.authHeader, t.apiKey)
}

func (t *transport) buildForm(payload []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if t.redact != nil {
		if err := mw.WriteField("redact", strconv.FormatBool(*t.redact)); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image"`)
	h.Set("Content-Type", mimetype.Detect(payload).String())
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body, mw.FormDataContentType(), nil
}

// send makes exactly one attempt. Every failure comes back as a *TransportError.
func (t *transport) send(payload []byte) (*OCRResponse, error) {
	body, contentType, err := t.buildForm(payload)
	if err != nil {
		return nil, transportFailure(TransportConnection, err, "building multipart form")
	}

	req, err := http.NewRequest(http.MethodPost, t.endpoint, body)
	if err != nil {
		return nil, transportFailure(TransportConnection, err, "creating request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	t.setAuth(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetError(err, "sending request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetError(err, "reading response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := respBody
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return nil, &TransportError{
			Kind:       TransportStatus,
			StatusCode: resp.StatusCode,
			err:        errors.Errorf("API error: %s", string(snippet)),
		}
	}

	var data map[string]interface{}
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, badResponse(err, "decoding response body")
	}
	if data == nil {
		return nil, badResponse(nil, "response body is null")
	}
	return &OCRResponse{Raw: respBody, Data: data}, nil
}

func classifyNetError(err error, msg string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transportFailure(TransportTimeout, err, msg)
	}
	return transportFailure(TransportConnection, err, msg)
}
