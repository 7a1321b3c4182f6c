package app

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DecodeKey decodes a hex or base64 key. Anything else is used as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("key value is empty")
	}
	return decodeKey(v), nil
}

// KeyByteLength returns the decoded byte length of a key string, or 0 when blank.
func KeyByteLength(value string) int {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}
	return len(decodeKey(v))
}

// ValidateCodesKey checks that the assignment-code key decodes to an AES key size.
func ValidateCodesKey(value string) error {
	switch n := KeyByteLength(value); n {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("codes.encryption_key must decode to 16, 24 or 32 bytes, got %d", n)
	}
}

func decodeKey(v string) []byte {
	// Runtime defaults are hex, so try that first.
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded
		}
	}
	return []byte(v)
}
