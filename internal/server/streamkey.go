package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	streamKeySaltLength = 16
	streamKeyKeyLength  = 32
	streamKeyIterations = 120000
)

// ErrInvalidStreamKey is returned when a presented stream key does not match
// the stored hash.
var ErrInvalidStreamKey = errors.New("invalid stream key")

// HashStreamKey derives a storable hash for a stream key. The output embeds
// the algorithm, iteration count, and salt so it stays verifiable when the
// parameters change.
func HashStreamKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("stream key is required")
	}
	salt := make([]byte, streamKeySaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(key), salt, streamKeyIterations, streamKeyKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", streamKeyIterations, encodedSalt, encodedKey), nil
}

// VerifyStreamKey checks a candidate key against the encoded hash in constant
// time.
func VerifyStreamKey(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify stream key: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify stream key: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify stream key: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify stream key: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify stream key: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidStreamKey
	}
	return nil
}
