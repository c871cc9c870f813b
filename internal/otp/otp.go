// Package otp generates numeric one-time codes for account recovery.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"time"
)

const (
	// Min and Max bound the 6-digit code space (inclusive).
	Min = 100000
	Max = 999999
	// TTL is how long an issued code stays valid.
	TTL = 10 * time.Minute
)

var span = big.NewInt(Max - Min + 1)

// Generate returns a uniformly random code in [Min, Max] and its expiry.
func Generate(now time.Time, ttl time.Duration) (int, time.Time, error) {
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, time.Time{}, err
	}
	return Min + int(n.Int64()), now.Add(ttl), nil
}

// Parse converts user input into a code. Only exactly six ASCII digits are accepted.
func Parse(s string) (int, bool) {
	if len(s) != 6 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < Min {
		return 0, false
	}
	return n, true
}

// Equal compares two codes in constant time.
func Equal(a, b int) bool {
	return subtle.ConstantTimeEq(int32(a), int32(b)) == 1
}

// Format renders a code for delivery.
func Format(code int) string {
	return strconv.Itoa(code)
}
