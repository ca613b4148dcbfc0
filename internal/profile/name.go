package profile

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultMaxNameLength = 16

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateName enforces the profile name charset and length. Names are
// case-sensitive.
func ValidateName(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	if strings.TrimSpace(name) == "" {
		return Invalid("name", fmt.Errorf("%w: empty", ErrInvalidName))
	}
	if !namePattern.MatchString(name) {
		return Invalid("name", fmt.Errorf("%w: only letters, digits and underscore are allowed", ErrInvalidName))
	}
	if len(name) > maxLen {
		return Invalid("name", fmt.Errorf("%w: max %d characters", ErrNameTooLong, maxLen))
	}
	return nil
}
