package session

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var sessionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-]`)
var ulidEntropy = ulid.Monotonic(cryptorand.Reader, 0)

// LogName returns the base name used for a session's log file. Sessions on
// a known thread share a stable prefix derived from the thread id.
func LogName(threadID string) string {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "new"
	}
	return "thread-" + shortHash(threadID)
}

// GenerateSessionID returns a unique session ID using the provided base name.
func GenerateSessionID(base string) string {
	return generateSessionID(base, time.Now())
}

func generateSessionID(base string, now time.Time) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "session"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	base = sessionNameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "session"
	}

	id := ulid.MustNew(ulid.Timestamp(now), ulidEntropy).String()
	return fmt.Sprintf("%s-%s", base, strings.ToLower(id))
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:4])
}
