package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.inboxd/sessions and appear
// as a structured log field on every line, so the accepted alphabet stays
// narrow and filesystem-safe.
const maxNameLen = 64

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that name is usable as a session identifier.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q is longer than %d characters", name, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q: use lowercase letters, digits, '-' or '_', starting with a letter or digit", name)
	}
	return nil
}
