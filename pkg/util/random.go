package util

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

var runesofrandom = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// RandomString returns n characters drawn uniformly from [a-zA-Z0-9].
func RandomString(n int) string {
	b := make([]rune, n)
	limit := big.NewInt(int64(len(runesofrandom)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is gone.
			panic(err)
		}
		b[i] = runesofrandom[idx.Int64()]
	}
	return string(b)
}

// NewShareID builds an identifier of the form <unix-millis>-<7 random chars>.
// The timestamp prefix keeps ids from different moments apart; the suffix
// separates ids minted within the same millisecond.
func NewShareID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + RandomString(7)
}
