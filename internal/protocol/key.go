package protocol

import (
	"crypto/rand"
	"math/big"
)

const keyChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"

// KeyLength is the length of a session key.
const KeyLength = 16

// NewKey returns a random session key the child must echo back in its KEY
// packet.
func NewKey() (string, error) {
	b := make([]byte, KeyLength)
	max := big.NewInt(int64(len(keyChars)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = keyChars[n.Int64()]
	}
	return string(b), nil
}
