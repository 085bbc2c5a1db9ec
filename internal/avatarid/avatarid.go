// Package avatarid extracts avatar identifiers from VRChat cache files.
//
// An identifier looks like avtr_XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX where each X
// is a hex digit of either case. Identifiers are kept exactly as found.
package avatarid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Prefix is the literal that starts every avatar identifier.
const Prefix = "avtr_"

var ErrInvalid = errors.New("invalid avatar id")

var pattern = regexp.MustCompile(Prefix + `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ID is an avatar identifier. Equality is exact string equality.
type ID string

func (id ID) String() string { return string(id) }

// UUID returns the identifier without its prefix, parsed.
func (id ID) UUID() (uuid.UUID, error) {
	return uuid.Parse(strings.TrimPrefix(string(id), Prefix))
}

// Match returns the first identifier found in content.
//
// Content is decoded leniently: invalid UTF-8 sequences become U+FFFD, so binary
// cache files never cause an error.
func Match(content []byte) (ID, bool) {
	m := pattern.FindString(decodeLossy(content))
	if m == "" {
		return "", false
	}
	return ID(m), true
}

// Parse validates that s is exactly one identifier.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(Prefix)+36 || !pattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	id := ID(s)
	if _, err := id.UUID(); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return id, nil
}

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}
