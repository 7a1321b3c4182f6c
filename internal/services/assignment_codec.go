package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/pkg/crypto"
)

// AssignmentCodec is the reversible encoding behind "enter your agency token" links sent to
// identities that are already active.
type AssignmentCodec interface {
	Encode(email string) (string, error)
	Decode(code string) (string, error)
}

type aesAssignmentCodec struct {
	key []byte
}

// NewAssignmentCodec returns an AES-GCM codec. key must be 16, 24 or 32 bytes.
func NewAssignmentCodec(key []byte) (AssignmentCodec, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("assignment codec: invalid key length %d", len(key))
	}
	return &aesAssignmentCodec{key: append([]byte(nil), key...)}, nil
}

func (c *aesAssignmentCodec) Encode(email string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", errors.New("assignment codec: email is required")
	}
	return crypto.Seal([]byte(email), c.key)
}

func (c *aesAssignmentCodec) Decode(code string) (string, error) {
	plain, err := crypto.Open(strings.TrimSpace(code), c.key)
	if err != nil {
		return "", err
	}
	email := models.NormalizeEmail(string(plain))
	if !strings.Contains(email, "@") {
		return "", errors.New("assignment codec: decoded value is not an email")
	}
	return email, nil
}
