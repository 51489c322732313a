package util

import (
	"strings"
	"testing"
)

func TestGenerateTrackingCodeLengths(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 4, 4},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateTrackingCode(tt.length); len(got) != tt.want {
				t.Errorf("GenerateTrackingCode() length = %v, want %v", len(got), tt.want)
			}
		})
	}
}

func TestGenerateTrackingCode(t *testing.T) {
	code := GenerateTrackingCode(10)
	if len(code) != 10 {
		t.Fatalf("expected length 10, got %d", len(code))
	}
	if !onlyChars(code, TrackingAlphabet) {
		t.Errorf("code %q contains characters outside the tracking alphabet", code)
	}
	if strings.ContainsAny(code, "01OI") {
		t.Errorf("code %q contains ambiguous characters", code)
	}
}

func TestGenerateTrackingCodeDistribution(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		seen[GenerateTrackingCode(10)] = struct{}{}
	}
	// 32^10 possibilities; a handful of duplicates in 1000 draws would indicate a broken source.
	if len(seen) < 995 {
		t.Errorf("expected nearly unique codes, got %d distinct of 1000", len(seen))
	}
}

func onlyChars(s, alphabet string) bool {
	for _, c := range s {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}
