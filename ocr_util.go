package upocr

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

// newRequestID returns a K-Sortable Globally Unique ID
func newRequestID() string {
	return ksuid.New().String()
}

func isRegularFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// timeTrack used to measure time of selected operations
func timeTrack(logger zerolog.Logger, start time.Time, operation string, message string) time.Duration {
	elapsed := time.Since(start)
	logger.Debug().Dur(operation, elapsed).Msg(message)
	return elapsed
}

// stripPassword masks the password of a broker or backend URL for logging.
// Unparsable input is hidden entirely.
func stripPassword(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	if _, passSet := u.User.Password(); passSet {
		u.User = url.User(u.User.Username())
		return strings.Replace(u.String(), "@", ":***@", 1)
	}
	return u.String()
}
