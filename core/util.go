package core

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	digits       = "0123456789"
	passwordRune = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// RandomString returns a cryptographically random string of length n drawn from `alphabet`.
func RandomString(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// RandomDigits returns n random decimal digits (leading zeros included).
func RandomDigits(n int) (string, error) {
	return RandomString(n, digits)
}

// RandomPassword returns a random password without ambiguous characters (0/O, 1/l/I).
func RandomPassword(n int) (string, error) {
	return RandomString(n, passwordRune)
}
