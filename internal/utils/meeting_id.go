package utils

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// meetingCodeAlphabet deliberately excludes nothing: codes are matched
// case-sensitively against uppercase alphanumerics.
const meetingCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MeetingCodePattern matches the public wire format XXX-XXX-XXX.
var MeetingCodePattern = regexp.MustCompile(`^[A-Z0-9]{3}-[A-Z0-9]{3}-[A-Z0-9]{3}$`)

// GenerateMeetingCode returns a random public meeting code in the form
// XXX-XXX-XXX. Uniqueness is enforced by the caller via rejection
// sampling against the repository.
func GenerateMeetingCode() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	code := make([]byte, 11)
	j := 0
	for i := 0; i < 9; i++ {
		if i == 3 || i == 6 {
			code[j] = '-'
			j++
		}
		code[j] = meetingCodeAlphabet[int(buf[i])%len(meetingCodeAlphabet)]
		j++
	}
	return string(code), nil
}

// ValidMeetingCode reports whether s matches the public code format.
func ValidMeetingCode(s string) bool {
	return MeetingCodePattern.MatchString(s)
}
