package cryptox

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
)

// DefaultOTPLength is the number of digits in an emailed verification code.
const DefaultOTPLength = 6

var ten = big.NewInt(10)

// GenerateOTP returns length decimal digits, each drawn uniformly from r.
// Pass nil to use crypto/rand. Leading zeros are kept.
func GenerateOTP(r io.Reader, length int) (string, error) {
	if length <= 0 {
		return "", errors.New("otp length must be positive")
	}
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
