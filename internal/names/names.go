// Package names validates the free-form identifiers that cross the
// authorization boundary: module ids, systemd unit names and package names.
package names

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const maxNameLen = 128

// ErrInvalid matches every validation error returned by this package.
var ErrInvalid = errors.New("invalid name")

type invalidError struct{ msg string }

func (e invalidError) Error() string { return e.msg }

func (e invalidError) Is(target error) bool { return target == ErrInvalid }

func invalidf(format string, a ...any) error {
	return invalidError{msg: fmt.Sprintf(format, a...)}
}

// ModuleID validates a bus module identifier.
func ModuleID(raw string) (string, error) {
	return normalize("module id", raw, 64, "-_.")
}

// Unit validates a systemd unit name and appends ".service" when the name
// carries no unit suffix.
func Unit(raw string) (string, error) {
	name, err := normalize("unit", raw, maxNameLen, "-_.@:\\")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(name, "-") {
		return "", invalidf("unit %q must not start with '-'", name)
	}
	if !strings.Contains(name, ".") || strings.HasSuffix(name, "@") {
		name += ".service"
	}
	return name, nil
}

// Package validates a Debian package name, optionally with an ":arch" suffix.
func Package(raw string) (string, error) {
	name, err := normalize("package", raw, maxNameLen, "-+.:")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(name, "-") {
		return "", invalidf("package %q must not start with '-'", name)
	}
	return name, nil
}

func normalize(what, raw string, maxLen int, extra string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalidf("%s must not be empty", what)
	}
	if len(name) > maxLen {
		return "", invalidf("%s %q is too long (max %d characters)", what, name, maxLen)
	}
	for _, r := range name {
		if isAllowedRune(r, extra) {
			continue
		}
		return "", invalidf("%s %q contains invalid character %q", what, name, r)
	}
	return name, nil
}

func isAllowedRune(r rune, extra string) bool {
	if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return true
	}
	return strings.ContainsRune(extra, r)
}
