package upocr

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultOCRConfidenceThreshold       = 0.95
	DefaultExtractorConfidenceThreshold = 0.0
)

type variant struct {
	name      string
	component string
	schema    Schema
	policy    Policy
	threshold float64
}

var (
	ocrVariant = variant{
		name:      "ocr",
		component: "OCR_CLIENT",
		schema:    SchemaEncodedResult,
		policy:    PolicyPermissive,
		threshold: DefaultOCRConfidenceThreshold,
	}
	extractorVariant = variant{
		name:      "extractor",
		component: "EXTRACTOR_CLIENT",
		schema:    SchemaPages,
		policy:    PolicyStrict,
		threshold: DefaultExtractorConfidenceThreshold,
	}
)

// Client submits images to one backend endpoint. Its configuration is fixed at
// construction, so a Client may be shared between goroutines.
type Client struct {
	variant   variant
	config    ClientConfig
	transport *transport
	logger    zerolog.Logger
}

// NewOCR builds a client for the OCR endpoint. Unless configured otherwise it reads the
// encoded_result schema, is permissive and gates at 0.95.
func NewOCR(cfg ClientConfig) (*Client, error) {
	return newClient(ocrVariant, cfg)
}

// NewExtractor builds a client for the document extractor. Unless configured otherwise it
// reads the pages schema, is strict and accepts any confidence.
func NewExtractor(cfg ClientConfig) (*Client, error) {
	return newClient(extractorVariant, cfg)
}

func newClient(v variant, cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "configuring %s client", v.name)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Schema == SchemaAuto {
		cfg.Schema = v.schema
	}
	if cfg.Policy == PolicyAuto {
		cfg.Policy = v.policy
	}
	if _, err := cfg.Schema.extractor(); err != nil {
		return nil, errors.Wrapf(err, "configuring %s client", v.name)
	}

	level, _ := parseLogLevel(cfg.LogLevel)
	var base zerolog.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	} else {
		base = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	logger := base.Level(level).With().Str("component", v.component).Logger()
	cfg.Logger = &logger

	redactSupported := cfg.Schema.SupportsRedaction()
	if cfg.Redact && !redactSupported {
		logger.Warn().Str("schema", cfg.Schema.String()).
			Msg("redaction requested but the response schema has no redact field; flag will not be sent")
	}

	return &Client{
		variant:   v,
		config:    cfg,
		transport: newTransport(cfg, redactSupported),
		logger:    logger,
	}, nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() ClientConfig {
	return c.config
}

type requestOptions struct {
	target    Target
	threshold float64
}

type RequestOption func(*requestOptions)

func WithTarget(target Target) RequestOption {
	return func(o *requestOptions) {
		o.target = target
	}
}

// WithConfidenceThreshold overrides the variant default. It must be within [0,1].
func WithConfidenceThreshold(threshold float64) RequestOption {
	return func(o *requestOptions) {
		o.threshold = threshold
	}
}

// WithEnvConfidenceThreshold applies OCR_CONFIDENCE_THRESHOLD when it is set.
func WithEnvConfidenceThreshold() RequestOption {
	return func(o *requestOptions) {
		o.threshold = getEnvFloat("OCR_CONFIDENCE_THRESHOLD", o.threshold)
	}
}

// Request runs image through normalize, send, gate and shape. What a failure returns
// depends on the configured Policy: strict returns the typed error, permissive logs it
// and returns nil, nil.
func (c *Client) Request(image ImageInput, opts ...RequestOption) (*ShapedResult, error) {
	ro := requestOptions{target: TargetFull, threshold: c.variant.threshold}
	for _, opt := range opts {
		opt(&ro)
	}

	requestID := newRequestID()
	logger := c.logger.With().Str("RequestID", requestID).Logger()

	inFlightGauge.WithLabelValues(c.variant.name).Inc()
	defer inFlightGauge.WithLabelValues(c.variant.name).Dec()
	start := time.Now()

	result, err := c.run(logger, image, ro)

	elapsed := timeTrack(logger, start, "request_duration", "request finished")
	duration.WithLabelValues(c.variant.name).Observe(elapsed.Seconds())
	requestCounter.WithLabelValues(c.variant.name, errorOutcome(err)).Inc()

	if err != nil {
		return c.fail(logger, err)
	}
	return result, nil
}

func (c *Client) run(logger zerolog.Logger, image ImageInput, ro requestOptions) (*ShapedResult, error) {
	if !(ro.threshold >= 0 && ro.threshold <= 1) {
		return nil, invalidInput(nil, "confidence threshold %v is outside [0,1]", ro.threshold)
	}

	payload, err := Normalize(image)
	if err != nil {
		return nil, err
	}
	payloadSize.WithLabelValues(c.variant.name).Observe(float64(len(payload)))
	logger.Debug().Str("input", image.Kind().String()).Int("payload_bytes", len(payload)).
		Str("target", ro.target.String()).Msg("sending image")

	resp, err := c.transport.send(payload)
	if err != nil {
		return nil, err
	}

	score, err := gate(resp, c.config.Schema, ro.threshold)
	if score != nil {
		confidenceHistogram.WithLabelValues(c.variant.name).Observe(*score)
		logger.Debug().Float64("confidence", *score).Msg("confidence")
	} else if err == nil {
		logger.Debug().Msg("confidence: none reported, gate skipped")
	}
	if err != nil {
		return nil, err
	}

	return Shape(resp, c.config.Schema, ro.target)
}

// fail is the only place the failure policy is applied.
func (c *Client) fail(logger zerolog.Logger, err error) (*ShapedResult, error) {
	if c.config.Policy == PolicyStrict {
		logger.Warn().Err(err).Str("outcome", errorOutcome(err)).Msg("request failed")
		return nil, err
	}
	logger.Error().Err(err).Str("outcome", errorOutcome(err)).Msg("request failed, returning no result")
	return nil, nil
}
