package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorCodeLength matches errors.error_code.
const ErrorCodeLength = 8

// NewErrorCode derives a short upper-case hex code from the error identity,
// the current time and a random UUID, so equal errors still get distinct codes.
func NewErrorCode(errorType, message string) string {
	h := sha256.New()
	h.Write([]byte(errorType))
	h.Write([]byte{0})
	h.Write([]byte(message))
	h.Write([]byte{0})
	h.Write([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	id := uuid.New()
	h.Write(id[:])
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))[:ErrorCodeLength])
}

// NormalizeErrorCode trims and upper-cases code and checks it is 8 hex characters.
func NormalizeErrorCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != ErrorCodeLength {
		return "", malformed("error code %q must be %d characters", code, ErrorCodeLength)
	}
	for _, r := range normalized {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", malformed("error code %q must be hexadecimal", code)
		}
	}
	return normalized, nil
}
