package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/SherClockHolmes/webpush-go"
)

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}|;:,.<>?")

// GenerateString returns a random string of length n drawn from a printable alphabet.
func GenerateString(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("length must be positive")
	}
	b := make([]rune, n)
	buf := make([]byte, len(b))
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(buf[i])%len(letters)]
	}
	return string(b), nil
}

// VAPIDKeys is a base64url encoded P-256 key pair used to sign push requests.
type VAPIDKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Valid reports whether both halves are present.
func (k VAPIDKeys) Valid() bool {
	return k.PublicKey != "" && k.PrivateKey != ""
}

// GenerateVAPIDKeys creates a fresh key pair.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	return VAPIDKeys{PublicKey: pub, PrivateKey: priv}, nil
}
