package coupon

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits 0/O/1/I so codes survive being read aloud or typed.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 12
	tokenLength  = 20
)

func randomCode(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, value := range buffer {
		buffer[i] = codeAlphabet[int(value)%len(codeAlphabet)]
	}
	return string(buffer), nil
}
