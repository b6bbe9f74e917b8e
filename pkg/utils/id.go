package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionCodeLength is the number of digits in a session code.
const SessionCodeLength = 6

// GenerateSessionCode returns a fixed-width numeric session code.
func GenerateSessionCode() (string, error) {
	var sb strings.Builder
	sb.Grow(SessionCodeLength)
	ten := big.NewInt(10)
	for i := 0; i < SessionCodeLength; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate session code: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

// GenerateConnectionID generates a unique signaling connection ID
func GenerateConnectionID() string {
	return "conn_" + uuid.NewString()
}

// GenerateRecordingID generates a unique recording ID
func GenerateRecordingID() string {
	return uuid.NewString()
}

// RecordingFileName names a recording after the moment it was opened,
// down to the millisecond.
func RecordingFileName(startedAt time.Time, ext string) string {
	return fmt.Sprintf("broadcast-%s-%03d.%s", startedAt.Format("20060102-150405"),
		startedAt.Nanosecond()/int(time.Millisecond), ext)
}
