package peerauth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"
)

// Tokens issued between peers default to a short lifetime: sessions are
// short and nodes re-issue on every session.
const DefaultTokenTTL = 10 * time.Minute

// pbkdf2 parameters for deriving the signing key from the mesh passphrase.
// Every node in a mesh derives the same key from the shared passphrase.
const (
	keyIterations = 100_000
	keyLength     = 32
)

// keySalt is a fixed derivation label, not a secret: the passphrase is.
var keySalt = []byte("africa-offline-os/mesh-key/v1")

var (
	// ErrInvalidToken indicates the token failed signature or claim checks
	ErrInvalidToken = errors.New("invalid peer token")

	// ErrEmptyPassphrase indicates the mesh passphrase was not configured
	ErrEmptyPassphrase = errors.New("mesh passphrase is empty")
)

// Claims carried in a node-to-node token.
type Claims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// Manager issues and validates node-to-node bearer tokens. All nodes sharing
// one mesh passphrase trust each other's tokens.
type Manager struct {
	key      []byte
	nodeID   string
	tokenTTL time.Duration
}

// NewManager derives the mesh signing key from the shared passphrase.
func NewManager(nodeID, passphrase string, tokenTTL time.Duration) (*Manager, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}

	key := pbkdf2.Key([]byte(passphrase), keySalt, keyIterations, keyLength, sha256.New)

	return &Manager{
		key:      key,
		nodeID:   nodeID,
		tokenTTL: tokenTTL,
	}, nil
}

// Token issues a fresh bearer token identifying this node.
// Implements the transport.TokenSource contract.
func (m *Manager) Token() (string, error) {
	now := time.Now()

	claims := Claims{
		NodeID: m.nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign peer token: %w", err)
	}

	return signed, nil
}

// Validate checks a peer's bearer token and returns the claimed node id.
func (m *Manager) Validate(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.NodeID == "" {
		return "", ErrInvalidToken
	}

	return claims.NodeID, nil
}
