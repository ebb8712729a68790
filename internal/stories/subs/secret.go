package subs

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const sharedSecretSize = 32

// DeriveSecret returns the one-time secret for trigger n:
// hex(HMAC-SHA256(shared, subscriptionID || uint64be(n))).
func DeriveSecret(shared []byte, subscriptionID string, n int) string {
	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte(subscriptionID))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySecret compares in constant time.
func VerifySecret(shared []byte, subscriptionID string, n int, secret string) bool {
	want := DeriveSecret(shared, subscriptionID, n)
	return hmac.Equal([]byte(want), []byte(secret))
}

func newSharedSecret() ([]byte, error) {
	b := make([]byte, sharedSecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
