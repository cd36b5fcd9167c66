package util

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// GenerateCode returns a uniformly random numeric code with exactly n digits.
// The first digit is never zero so the code survives being parsed as a number.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("code length must be positive")
	}

	var b strings.Builder
	b.Grow(n)

	for i := range n {
		limit := int64(10)
		if i == 0 {
			limit = 9
		}

		d, err := rand.Int(rand.Reader, big.NewInt(limit))
		if err != nil {
			return "", err
		}

		digit := d.Int64()
		if i == 0 {
			digit++
		}

		b.WriteByte(byte('0' + digit))
	}

	return b.String(), nil
}
