// Package keys generates human-readable nicknames for branches and
// repositories.
package keys

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// Lookup reports whether a nickname is already in use.
type Lookup interface {
	Taken(nickname string) bool
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(nickname string) bool

func (f LookupFunc) Taken(nickname string) bool { return f(nickname) }

// MapLookup treats the keys of a nickname table as taken.
type MapLookup map[string]string

func (m MapLookup) Taken(nickname string) bool {
	_, ok := m[nickname]
	return ok
}

var words = []string{
	"anvil", "bellows", "cinder", "dwarf", "ember", "forge", "gilded", "hammer",
	"ingot", "jewel", "kiln", "lode", "mithril", "nugget", "ore", "quench",
	"rivet", "smelt", "tongs", "vein", "welded", "yield",
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func makePhrase(numWords, suffixDigits int) string {
	parts := make([]string, 0, numWords+1)
	for i := 0; i < numWords; i++ {
		parts = append(parts, words[randUint32()%uint32(len(words))])
	}
	if suffixDigits > 0 {
		limit := uint32(1)
		for i := 0; i < suffixDigits; i++ {
			limit *= 10
		}
		parts = append(parts, fmt.Sprintf("%0*d", suffixDigits, randUint32()%limit))
	}
	return strings.Join(parts, "-")
}

// MaxAttempts bounds the collision retries of GenerateUniquePhrase.
const MaxAttempts = 10

// GenerateUniquePhrase returns a phrase of numWords words and a numeric
// suffix that lookup does not know. After MaxAttempts collisions the search
// space is widened once; a collision there is reported as a State error.
func GenerateUniquePhrase(lookup Lookup, numWords, suffixDigits int) (string, error) {
	const op errors.Op = "keys.GenerateUniquePhrase"
	if numWords < 1 {
		return "", errors.E(op, "need at least one word, got %d", numWords)
	}
	for i := 0; i < MaxAttempts; i++ {
		k := makePhrase(numWords, suffixDigits)
		if !lookup.Taken(k) {
			return k, nil
		}
	}
	k := makePhrase(numWords+1, suffixDigits+2)
	if lookup.Taken(k) {
		return "", errors.E(op, errors.State, "no free nickname after %d attempts", MaxAttempts+1)
	}
	return k, nil
}

// Valid reports whether s can be used as a nickname: non-empty lowercase
// words of letters and digits joined by single dashes.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, "-") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}
