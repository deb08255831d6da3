package deletion_test

import (
	"strings"
	"testing"
	"time"

	"github.com/pulsefit/pulsefit/internal/deletion"
)

func TestCertificateSigner_IssueAndVerify(t *testing.T) {
	signer := deletion.NewCertificateSigner([]byte("test-signing-key"), "https://api.test")
	completedAt := time.Date(2026, 9, 19, 12, 0, 0, 0, time.UTC)

	cert, err := signer.Issue("user-1", "del_1", completedAt)
	if err != nil {
		t.Fatalf("failed to issue certificate: %v", err)
	}
	if cert.UserIDHash == "" || strings.Contains(cert.UserIDHash, "user-1") {
		t.Errorf("expected a hashed user id, got %q", cert.UserIDHash)
	}

	verified, err := signer.Verify(cert.Signed)
	if err != nil {
		t.Fatalf("failed to verify certificate: %v", err)
	}
	if verified.RequestID != "del_1" {
		t.Errorf("expected request del_1, got %s", verified.RequestID)
	}
	if verified.UserIDHash != cert.UserIDHash {
		t.Errorf("user id hash changed across the round trip")
	}
	if !verified.CompletedAt.Equal(completedAt) {
		t.Errorf("expected completedAt %v, got %v", completedAt, verified.CompletedAt)
	}
}

func TestCertificateSigner_RejectsTampering(t *testing.T) {
	signer := deletion.NewCertificateSigner([]byte("test-signing-key"), "https://api.test")
	cert, err := signer.Issue("user-1", "del_1", time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to issue certificate: %v", err)
	}

	// Flipped payload byte
	tampered := []byte(cert.Signed)
	dot := strings.Index(cert.Signed, ".")
	tampered[dot+1] ^= 0x01
	if _, err := signer.Verify(string(tampered)); err == nil {
		t.Error("expected a tampered certificate to fail verification")
	}

	// Wrong key
	other := deletion.NewCertificateSigner([]byte("another-key"), "https://api.test")
	if _, err := other.Verify(cert.Signed); err == nil {
		t.Error("expected verification with the wrong key to fail")
	}

	// Wrong issuer
	foreign := deletion.NewCertificateSigner([]byte("test-signing-key"), "https://elsewhere.test")
	if _, err := foreign.Verify(cert.Signed); err == nil {
		t.Error("expected verification with the wrong issuer to fail")
	}
}

func TestNewRecoveryCode(t *testing.T) {
	plaintext, hash, err := deletion.NewRecoveryCode()
	if err != nil {
		t.Fatalf("failed to generate recovery code: %v", err)
	}
	if len(plaintext) != 32 {
		t.Errorf("expected a 32-char hex code, got %d chars", len(plaintext))
	}
	if deletion.HashRecoveryCode(plaintext) != hash {
		t.Error("hash does not match the plaintext code")
	}

	again, _, err := deletion.NewRecoveryCode()
	if err != nil {
		t.Fatalf("failed to generate recovery code: %v", err)
	}
	if plaintext == again {
		t.Error("expected unique codes")
	}
}
