// Package util provides utility functions for the SupportPipe application.
package util

import (
	"math/rand/v2"
	"strings"
)

// TrackingAlphabet is the character set used for tracking codes. It omits 0, O, 1
// and I so codes can be read back over the phone.
const TrackingAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateTrackingCode generates an uppercase code drawn from TrackingAlphabet.
// Codes are not guaranteed unique; callers must check them against storage.
func GenerateTrackingCode(length int) string {
	return generateFromAlphabet(TrackingAlphabet, length)
}

func generateFromAlphabet(alphabet string, length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}

	return builder.String()
}
