// Package secretcode generates and checks the one-time codes printed on
// invitation letters.
package secretcode

import (
	"fmt"
	"strings"

	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Length is the number of significant characters in a code.
	Length = 12
	// GroupSize is the chunk length used when a code is displayed.
	GroupSize = 4

	letters   = "abcdefghjkmnpqrstuvwxyz"
	digits    = "23456789"
	numDigits = 4
)

// Codec produces codes over an alphabet without look-alike characters.
type Codec struct {
	gen  *password.Generator
	cost int
}

// New returns a Codec hashing with the given bcrypt cost. A cost of zero uses
// bcrypt.DefaultCost.
func New(cost int) (*Codec, error) {
	gen, err := password.NewGenerator(&password.GeneratorInput{
		LowerLetters: letters,
		Digits:       digits,
	})
	if err != nil {
		return nil, fmt.Errorf("secret code generator: %w", err)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Codec{gen: gen, cost: cost}, nil
}

// Generate returns a fresh plaintext code and its bcrypt hash. The plaintext
// is meant to be shown once and never stored.
func (c *Codec) Generate() (plaintext, hash string, err error) {
	raw, err := c.gen.Generate(Length, numDigits, 0, true, true)
	if err != nil {
		return "", "", fmt.Errorf("generate secret code: %w", err)
	}
	plaintext = strings.ToUpper(raw)

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), c.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash secret code: %w", err)
	}
	return plaintext, string(digest), nil
}

// Verify reports whether submitted matches hash once normalized.
func (c *Codec) Verify(submitted, hash string) bool {
	code := Normalize(submitted)
	if code == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// Normalize trims, upper-cases and drops spaces and dashes.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(code)))
}

// Group formats a code as XXXX-XXXX-XXXX for letters.
func Group(code string) string {
	code = Normalize(code)
	var b strings.Builder
	for i, r := range code {
		if i > 0 && i%GroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
