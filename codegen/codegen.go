// Package codegen produces random short codes for links.
// Generators are safe for concurrent use.
package codegen

import (
	"crypto/rand"
	"fmt"
)

// Alphabet excludes the visually ambiguous characters 0, O, 1, I and l.
const Alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultLength = 7
	MinLength     = 4
	MaxLength     = 32
)

// bytes at or above this value are rejected so every alphabet index is equally likely.
const rejectionLimit = 256 - (256 % len(Alphabet))

// Generator produces a fixed-length code on every call.
type Generator interface {
	Generate() string
}

type randomGenerator struct {
	length int
}

// New returns a Generator producing codes of the given length.
// Lengths outside [MinLength, MaxLength] fall back to DefaultLength.
func New(length int) Generator {
	if length < MinLength || length > MaxLength {
		length = DefaultLength
	}
	return &randomGenerator{length: length}
}

// Generate draws each character uniformly from Alphabet using crypto/rand.
func (g *randomGenerator) Generate() string {
	code := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)

	for len(code) < g.length {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand.Read is documented to never fail on supported platforms.
			panic(fmt.Sprintf("codegen: crypto/rand failed: %v", err))
		}
		for _, b := range buf {
			if int(b) >= rejectionLimit {
				continue
			}
			code = append(code, Alphabet[int(b)%len(Alphabet)])
			if len(code) == g.length {
				break
			}
		}
	}

	return string(code)
}
