// Package seals derives memorable names for commits.
//
// A seal name is adjective-noun-verb-adverb-hash8, where the words are
// chosen deterministically from the commit hash and hash8 is the first
// four bytes of the hash in hex:
//
//	swift-anvil-glows-bright-447abe9b
package seals

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
)

var (
	adjectives = []string{
		"swift", "brave", "bold", "clever", "mighty", "gentle", "wise", "noble",
		"fierce", "calm", "bright", "ancient", "silent", "golden", "silver", "iron",
	}
	nouns = []string{
		"anvil", "forge", "hammer", "ember", "falcon", "river", "mountain", "raven",
		"crown", "shield", "crystal", "oak", "comet", "tower", "bridge", "flame",
	}
	verbs = []string{
		"glows", "rises", "guards", "builds", "seeks", "shines", "waits", "turns",
		"flows", "burns", "heals", "travels", "sings", "echoes", "reflects", "returns",
	}
	adverbs = []string{
		"high", "fast", "slow", "far", "near", "deep", "bright", "quiet",
		"true", "free", "bold", "strong", "calm", "wild", "early", "late",
	}
)

// Name returns the seal name of h. The same hash always yields the same
// name.
func Name(h cas.Hash) string {
	r := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(h[:8]))))
	adj := adjectives[r.Intn(len(adjectives))]
	noun := nouns[r.Intn(len(nouns))]
	verb := verbs[r.Intn(len(verbs))]
	adv := adverbs[r.Intn(len(adverbs))]
	return fmt.Sprintf("%s-%s-%s-%s-%s", adj, noun, verb, adv, hex.EncodeToString(h[:4]))
}

// ShortHash extracts the hex suffix of a seal name.
func ShortHash(name string) (string, bool) {
	parts := strings.Split(name, "-")
	if len(parts) != 5 {
		return "", false
	}
	last := parts[4]
	if len(last) != 8 {
		return "", false
	}
	if _, err := hex.DecodeString(last); err != nil {
		return "", false
	}
	return last, true
}

// Matches reports whether name is the seal name of h.
func Matches(name string, h cas.Hash) bool {
	short, ok := ShortHash(name)
	if !ok || !strings.HasPrefix(h.String(), short) {
		return false
	}
	return Name(h) == name
}
