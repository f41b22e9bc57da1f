package object

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// HashBytes computes the raw BLAKE3-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := blake3.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the BLAKE3-256 of the envelope "type len\0content",
// so the three object kinds occupy disjoint id spaces.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := blake3.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// ValidateHash checks that a hash is a valid 64-character lowercase hex
// string.
func ValidateHash(h Hash) error {
	s := strings.TrimSpace(string(h))
	if s == "" {
		return fmt.Errorf("hash is empty")
	}
	if len(s) != 64 {
		return fmt.Errorf("hash length %d, expected 64", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return nil
}
