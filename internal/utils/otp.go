package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// OTPDigits is the width of every generated one-time code.
const OTPDigits = 6

// GenerateOTP returns a uniformly random, zero-padded numeric code of
// OTPDigits digits.
func GenerateOTP() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}
