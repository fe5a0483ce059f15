package remote

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// ErrDecrypt means a sealed box failed authentication.
var ErrDecrypt = errors.New("cannot open sealed message")

// KeyPair is a curve25519 keypair. Its hex public key is the client id.
type KeyPair struct {
	Public [32]byte
	Secret [32]byte
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: *pub, Secret: *sec}, nil
}

// ClientID is the hex encoded public key.
func (k *KeyPair) ClientID() string {
	return hex.EncodeToString(k.Public[:])
}

// ParseClientID decodes a hex client id into a public key.
func ParseClientID(id string) ([32]byte, error) {
	var pub [32]byte
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != len(pub) {
		return pub, fmt.Errorf("invalid client id %q", id)
	}
	copy(pub[:], raw)
	return pub, nil
}

// seal encrypts plain for peer and returns base64(nonce || box).
func (k *KeyPair) seal(peer [32]byte, plain []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := box.Seal(nonce[:], plain, &nonce, &peer, &k.Secret)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *KeyPair) open(peer [32]byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < nonceSize+box.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := box.Open(nil, raw[nonceSize:], &nonce, &peer, &k.Secret)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
