package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const sealerSalt = "agentdesk/player-passwords/v1"

// PasswordSealer encrypts player passwords at rest. The user needs the
// password back to log in on the dashboard, so it cannot be hashed.
type PasswordSealer struct {
	key [32]byte
}

// NewPasswordSealer derives the box key from secret with argon2id.
func NewPasswordSealer(secret string) (*PasswordSealer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("secret key must be at least 16 characters")
	}

	derived := argon2.IDKey([]byte(secret), []byte(sealerSalt), 1, 19*1024, 2, 32)
	sealer := &PasswordSealer{}
	copy(sealer.key[:], derived)
	return sealer, nil
}

func (p *PasswordSealer) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &p.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (p *PasswordSealer) Open(sealed string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid sealed password: %w", err)
	}
	if len(box) < 24+secretbox.Overhead {
		return "", errors.New("sealed password too short")
	}

	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, &p.key)
	if !ok {
		return "", errors.New("sealed password could not be opened")
	}
	return string(plaintext), nil
}
