package deletion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Certificate is the immutable proof that a deletion completed. The
// Signed field is an HS256 JWT over the other fields, verifiable offline
// by anyone holding the signing key.
type Certificate struct {
	RequestID   string
	UserIDHash  string
	CompletedAt time.Time
	Signed      string
}

// CertificateSigner issues and verifies deletion certificates.
type CertificateSigner struct {
	key    []byte
	issuer string
}

func NewCertificateSigner(key []byte, issuer string) *CertificateSigner {
	return &CertificateSigner{key: key, issuer: issuer}
}

type certificateClaims struct {
	jwt.RegisteredClaims
	UserIDHash  string `json:"userIdHash"`
	RequestID   string `json:"requestId"`
	CompletedAt string `json:"completedAt"`
}

// Issue signs a certificate for a completed deletion. The user ID is
// hashed so the certificate itself retains no personal data.
func (s *CertificateSigner) Issue(userID, requestID string, completedAt time.Time) (*Certificate, error) {
	userIDHash := hashUserID(userID)
	completedAt = completedAt.UTC()

	claims := certificateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  userIDHash,
			IssuedAt: jwt.NewNumericDate(completedAt),
		},
		UserIDHash:  userIDHash,
		RequestID:   requestID,
		CompletedAt: completedAt.Format(time.RFC3339),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign deletion certificate: %w", err)
	}

	return &Certificate{
		RequestID:   requestID,
		UserIDHash:  userIDHash,
		CompletedAt: completedAt,
		Signed:      signed,
	}, nil
}

// Verify checks a signed certificate and returns its claims.
func (s *CertificateSigner) Verify(signed string) (*Certificate, error) {
	var claims certificateClaims
	token, err := jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to verify deletion certificate: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("deletion certificate is invalid")
	}

	completedAt, err := time.Parse(time.RFC3339, claims.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("deletion certificate has a malformed timestamp: %w", err)
	}

	return &Certificate{
		RequestID:   claims.RequestID,
		UserIDHash:  claims.UserIDHash,
		CompletedAt: completedAt,
		Signed:      signed,
	}, nil
}

func hashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
