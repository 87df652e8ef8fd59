package utils

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

// GenerateBindCode creates a numeric code of the given length for linking
// a chat identity to an account.
func GenerateBindCode(n int) string {
	if n <= 0 {
		n = 6
	}
	digits := make([]byte, n)
	for i := 0; i < n; i++ {
		// crypto/rand for unpredictability
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// fallback to time based modulo if crypto fails
			v = big.NewInt(time.Now().UnixNano() % 10)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}

// BindCodeCooldownTrySet rate-limits bind-code issuance per user. Returns
// true when issuance is allowed; false while the cooldown holds. Fails
// open when redis is unreachable.
func BindCodeCooldownTrySet(userID uint, cooldown time.Duration) bool {
	rc := GetRedis()
	if rc == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := "cooldown:bindcode:" + strconv.FormatUint(uint64(userID), 10)
	ok, err := rc.SetNX(ctx, key, "1", cooldown).Result()
	if err != nil {
		return true
	}
	return ok
}
