// Package vapid produces the delivery credentials (VAPID authorization
// headers) attached to every web push request.
package vapid

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// fcmRelayHost identifies Google's push relay. Endpoints routed through
	// it must be addressed with the canonical audience below; a literal
	// scheme://host derivation is rejected by FCM in some configurations.
	fcmRelayHost = "fcm.googleapis.com"
	fcmAudience  = "https://fcm.googleapis.com"

	// tokenTTL is the lifetime of each signed VAPID token. Push services
	// cap this at 24h; 12h matches the common client libraries.
	tokenTTL = 12 * time.Hour
)

// Credential is the signed authorization material for one push attempt.
type Credential struct {
	// Authorization is the full header value: "vapid t=<jwt>, k=<pub>".
	Authorization string
	// Audience is the aud claim the token was signed for.
	Audience string
}

// Signer holds the process-wide VAPID key pair. The key material is parsed
// once at construction and read-only afterwards, so a single Signer is safe
// for concurrent use by every dispatch.
type Signer struct {
	signingKey *ecdsa.PrivateKey
	publicKey  string // base64url raw uncompressed point, no padding
	privateKey string // base64url raw scalar, no padding
	subject    string
}

// NewSigner parses base64url-encoded raw P-256 key material (the format
// served by /vapid-public-key and stored in configuration). A parse failure
// here is a startup-fatal condition; Sign never fails on key material in
// steady state.
func NewSigner(publicKey, privateKey, subject string) (*Signer, error) {
	raw, err := decodeKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("vapid private key is not valid base64url: %w", err)
	}

	ecdhKey, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("vapid private key is not a valid P-256 scalar: %w", err)
	}

	derivedPublic := base64.RawURLEncoding.EncodeToString(ecdhKey.PublicKey().Bytes())
	if publicKey == "" {
		publicKey = derivedPublic
	} else if strings.TrimRight(publicKey, "=") != derivedPublic {
		return nil, fmt.Errorf("vapid public key does not match the configured private key")
	}

	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(raw)
	signingKey := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         new(big.Int).SetBytes(raw),
	}

	if subject == "" {
		return nil, fmt.Errorf("vapid subject (contact identifier) is required")
	}
	if !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https://") {
		subject = "mailto:" + subject
	}

	return &Signer{
		signingKey: signingKey,
		publicKey:  derivedPublic,
		privateKey: strings.TrimRight(privateKey, "="),
		subject:    subject,
	}, nil
}

// GenerateSigner creates a Signer with a fresh key pair. Every restart
// invalidates credentials previously handed to clients, so this is only
// suitable when explicitly configured.
func GenerateSigner(subject string) (*Signer, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to generate vapid keys: %w", err)
	}
	return NewSigner(publicKey, privateKey, subject)
}

// Sign produces the delivery credential for one push attempt against the
// given endpoint.
func (s *Signer) Sign(endpoint string) (Credential, error) {
	aud, err := Audience(endpoint)
	if err != nil {
		return Credential{}, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": aud,
		"sub": s.subject,
		"exp": jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to sign vapid token: %w", err)
	}

	return Credential{
		Authorization: fmt.Sprintf("vapid t=%s, k=%s", signed, s.publicKey),
		Audience:      aud,
	}, nil
}

// Audience derives the aud claim for an endpoint: the canonical relay
// audience when the endpoint goes through Google's relay, otherwise
// scheme://host of the endpoint with path and query stripped.
func Audience(endpoint string) (string, error) {
	if strings.Contains(endpoint, fcmRelayHost) {
		return fcmAudience, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no usable origin", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// PublicKey returns the base64url public half, as served to clients.
func (s *Signer) PublicKey() string { return s.publicKey }

// Keys returns both encoded halves for handoff to the push transport.
func (s *Signer) Keys() (publicKey, privateKey string) {
	return s.publicKey, s.privateKey
}

// Subject returns the contact identifier used as the sub claim.
func (s *Signer) Subject() string { return s.subject }

func decodeKey(key string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
}
