package upocr

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Policy decides what Request does with a failed request.
type Policy int

const (
	// PolicyAuto lets the client variant pick its policy.
	PolicyAuto = Policy(iota)
	// PolicyPermissive logs the failure and returns a nil result with a nil error.
	PolicyPermissive
	// PolicyStrict returns the typed error to the caller.
	PolicyStrict
)

func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyPermissive:
		return "permissive"
	case PolicyStrict:
		return "strict"
	}
	return ""
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PolicyAuto, nil
	case "permissive":
		return PolicyPermissive, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyAuto, errors.Errorf("unknown failure policy %q", s)
}

func (p *Policy) UnmarshalJSON(b []byte) error {
	var policyStr string
	if err := json.Unmarshal(b, &policyStr); err == nil {
		parsed, err := ParsePolicy(policyStr)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var policyInt int
	if err := json.Unmarshal(b, &policyInt); err != nil {
		return err
	}
	*p = Policy(policyInt)
	return nil
}

const (
	defaultTimeout  = 10 * time.Second
	defaultLogLevel = "INFO"
)

type ClientConfig struct {
	URL    string
	APIKey string
	// Redact asks the backend to mask sensitive content. Ignored by schemas without a redact field.
	Redact  bool
	Timeout time.Duration
	// LogLevel is a level name such as "DEBUG", "INFO" or "WARNING", case insensitive.
	LogLevel string
	Schema   Schema
	Policy   Policy
	// AuthHeader defaults to Authorization with a bearer token. Any other header carries the raw key.
	AuthHeader string
	// Logger defaults to a zerolog logger writing to stderr.
	Logger *zerolog.Logger
}

// DefaultClientConfig fills the config from OCR_* environment variables.
func DefaultClientConfig() ClientConfig {
	clientConfig := ClientConfig{
		URL:        getEnv("OCR_BACKEND_URL", ""),
		APIKey:     getEnv("OCR_SECRET", ""),
		Redact:     getEnvBool("OCR_REDACT", false),
		Timeout:    getEnvDuration("OCR_TIMEOUT", defaultTimeout),
		LogLevel:   getEnv("OCR_LOG_LEVEL", defaultLogLevel),
		AuthHeader: getEnv("OCR_AUTH_HEADER", ""),
	}
	// unparsable values fall back to auto
	clientConfig.Schema, _ = ParseSchema(os.Getenv("OCR_SCHEMA"))
	clientConfig.Policy, _ = ParsePolicy(os.Getenv("OCR_POLICY"))
	return clientConfig
}

func (c ClientConfig) validate() error {
	if c.URL == "" {
		return errors.New("endpoint URL is required")
	}
	if c.APIKey == "" {
		return errors.New("API key is required")
	}
	if c.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// parseLogLevel accepts zerolog names plus WARNING and CRITICAL.
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "critical":
		return zerolog.FatalLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log level %q", level)
	}
	return lvl, nil
}

type FlagFunction func()

func NoOpFlagFunction() FlagFunction {
	return func() {}
}

// DefaultConfigFlagsOverride starts from DefaultClientConfig, lets flagFunction register
// extra flags and parses the command line.
func DefaultConfigFlagsOverride(flagFunction FlagFunction) (ClientConfig, error) {
	flagFunction()
	return configFlagsOverride(flag.CommandLine, os.Args[1:], DefaultClientConfig())
}

func configFlagsOverride(fs *flag.FlagSet, args []string, clientConfig ClientConfig) (ClientConfig, error) {
	var (
		url, apiKey, logLevel, schema, policy, authHeader string
		redact                                            bool
		timeout                                           time.Duration
	)
	fs.StringVar(&url, "ocr_url", "", "OCR backend endpoint, eg: https://api.example.com/ocr")
	fs.StringVar(&apiKey, "ocr_key", "", "API key for the OCR backend")
	fs.BoolVar(&redact, "redact", false, "ask the backend to redact sensitive content")
	fs.DurationVar(&timeout, "timeout", 0, "request timeout, eg: 10s")
	fs.StringVar(&logLevel, "log_level", "", "log level: DEBUG, INFO, WARNING, ERROR")
	fs.StringVar(&schema, "schema", "", "response schema: encoded_result or pages")
	fs.StringVar(&policy, "policy", "", "failure policy: permissive or strict")
	fs.StringVar(&authHeader, "auth_header", "", "header carrying the API key, default Authorization: Bearer")

	if err := fs.Parse(args); err != nil {
		return clientConfig, err
	}

	if len(url) > 0 {
		clientConfig.URL = url
	}
	if len(apiKey) > 0 {
		clientConfig.APIKey = apiKey
	}
	if redact {
		clientConfig.Redact = true
	}
	if timeout > 0 {
		clientConfig.Timeout = timeout
	}
	if len(logLevel) > 0 {
		clientConfig.LogLevel = logLevel
	}
	if len(authHeader) > 0 {
		clientConfig.AuthHeader = authHeader
	}
	if len(schema) > 0 {
		parsed, err := ParseSchema(schema)
		if err != nil {
			return clientConfig, err
		}
		clientConfig.Schema = parsed
	}
	if len(policy) > 0 {
		parsed, err := ParsePolicy(policy)
		if err != nil {
			return clientConfig, err
		}
		clientConfig.Policy = parsed
	}
	return clientConfig, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration takes either a Go duration ("15s") or plain seconds ("15", "2.5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
