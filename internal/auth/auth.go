// Package auth implements the credential verifier consumed by every
// namespace-mutating and metadata-reading operation, plus JWT issuance so
// clients can trade a password for a bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/griddfs/griddfs/internal/logging"
	"github.com/griddfs/griddfs/internal/metadata"
	"github.com/griddfs/griddfs/internal/metrics"
)

const tokenTTL = 24 * time.Hour

// Credential is what a caller presents: either a bearer token or a
// username/password pair. Token wins when both are set.
type Credential struct {
	Username string
	Password string
	Token    string
}

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier checks credentials against the stored users table.
type Verifier struct {
	store  metadata.Store
	secret []byte
}

// New creates a verifier over the given store.
func New(store metadata.Store, jwtSecret string) *Verifier {
	return &Verifier{
		store:  store,
		secret: []byte(jwtSecret),
	}
}

// Register creates a new credential. Duplicate usernames fail with
// metadata.ErrAlreadyExists.
func (v *Verifier) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password required: %w", metadata.ErrUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return v.store.CreateUser(ctx, username, string(hash))
}

// Verify reports whether the username/password pair matches a stored
// credential.
func (v *Verifier) Verify(ctx context.Context, username, password string) bool {
	user, err := v.store.GetUser(ctx, username)
	if err != nil {
		if !errors.Is(err, metadata.ErrNotFound) {
			logging.Error("credential lookup failed", zap.String("username", username), zap.Error(err))
		}
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// Login verifies the pair and mints a signed bearer token.
func (v *Verifier) Login(ctx context.Context, username, password string) (string, error) {
	if !v.Verify(ctx, username, password) {
		metrics.RecordAuthAttempt(false)
		return "", fmt.Errorf("invalid credentials: %w", metadata.ErrUnauthorized)
	}
	metrics.RecordAuthAttempt(true)

	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate resolves a credential to a caller identity, failing with
// metadata.ErrUnauthorized before any state is touched.
func (v *Verifier) Authenticate(ctx context.Context, cred Credential) (string, error) {
	if cred.Token != "" {
		claims, err := v.validateToken(cred.Token)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			return "", fmt.Errorf("invalid token: %w", metadata.ErrUnauthorized)
		}
		metrics.RecordAuthAttempt(true)
		return claims.Username, nil
	}

	if !v.Verify(ctx, cred.Username, cred.Password) {
		metrics.RecordAuthAttempt(false)
		return "", fmt.Errorf("invalid credentials: %w", metadata.ErrUnauthorized)
	}
	metrics.RecordAuthAttempt(true)
	return cred.Username, nil
}

func (v *Verifier) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}
