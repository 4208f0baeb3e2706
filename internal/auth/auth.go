package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"learning-agent/internal/logger"
	"learning-agent/pkg/api"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ClientContextKey contextKey = "client"

// MinSecretLength is the shortest accepted shared secret
const MinSecretLength = 32

var ErrSecretTooShort = fmt.Errorf("shared secret must be at least %d characters", MinSecretLength)

// Claims identify the client that minted a service token
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// Authenticator signs and checks HS256 service tokens shared between the agent client and
// the backend. A zero secret disables authentication.
type Authenticator struct {
	secret     []byte
	expiration time.Duration
}

// NewAuthenticator validates the secret and returns an Authenticator.
// An empty secret yields a disabled authenticator.
func NewAuthenticator(secret string, expiration time.Duration) (*Authenticator, error) {
	if secret == "" {
		return &Authenticator{}, nil
	}
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if expiration <= 0 {
		expiration = time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiration: expiration}, nil
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateToken returns a signed token for client
func (a *Authenticator) GenerateToken(client string) (string, error) {
	if !a.Enabled() {
		return "", errors.New("authentication is disabled")
	}
	now := time.Now()
	claims := Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies a token
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// Middleware rejects requests without a valid bearer token and stores the client name in
// the request context. It passes everything through when authentication is disabled.
func (a *Authenticator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			sendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			sendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := a.ValidateToken(bearerToken[1])
		if err != nil {
			logger.Log.WithError(err).Warn("Rejected service token")
			sendError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		ctx := context.WithValue(r.Context(), ClientContextKey, claims.Client)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// ClientFromContext returns the authenticated client name, if any
func ClientFromContext(ctx context.Context) string {
	client, _ := ctx.Value(ClientContextKey).(string)
	return client
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := api.ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}
