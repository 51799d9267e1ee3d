package server

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerifyStreamKey(t *testing.T) {
	hash, err := HashStreamKey("cam-secret")
	if err != nil {
		t.Fatalf("HashStreamKey: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	if err := VerifyStreamKey(hash, "cam-secret"); err != nil {
		t.Fatalf("VerifyStreamKey: %v", err)
	}
	if err := VerifyStreamKey(hash, "wrong"); !errors.Is(err, ErrInvalidStreamKey) {
		t.Fatalf("VerifyStreamKey wrong key = %v, want ErrInvalidStreamKey", err)
	}
}

func TestHashStreamKeySalted(t *testing.T) {
	first, err := HashStreamKey("cam-secret")
	if err != nil {
		t.Fatalf("HashStreamKey: %v", err)
	}
	second, err := HashStreamKey("cam-secret")
	if err != nil {
		t.Fatalf("HashStreamKey: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyStreamKeyMalformed(t *testing.T) {
	for _, hash := range []string{
		"",
		"plaintext",
		"pbkdf2$md5$1000$abc$def",
		"pbkdf2$sha256$zero$abc$def",
	} {
		if err := VerifyStreamKey(hash, "any"); err == nil {
			t.Fatalf("expected error for hash %q", hash)
		}
	}
}

func TestHashStreamKeyRequiresKey(t *testing.T) {
	if _, err := HashStreamKey(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
