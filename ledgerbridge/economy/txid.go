package economy

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"
)

const txAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewTransactionID builds a globally unique journal id from the current
// timestamp plus random bits. Never a predictable counter.
func NewTransactionID() string {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand is effectively infallible; keep ids flowing anyway.
		binary.BigEndian.PutUint32(bytes, uint32(time.Now().UnixNano()))
	}

	ts := base36encode(uint64(time.Now().UnixMilli()))
	suffix := base36encode(uint64(binary.BigEndian.Uint32(bytes)))
	for len(suffix) < 6 {
		suffix = "0" + suffix
	}

	return "TX" + ts + suffix
}

func base36encode(number uint64) string {
	if number == 0 {
		return "0"
	}
	var b strings.Builder
	var digits []byte
	for number > 0 {
		digits = append(digits, txAlphabet[number%36])
		number /= 36
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b.WriteByte(digits[i])
	}
	return b.String()
}
