package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	scopeTrain    = "chains:train"
	scopeGenerate = "chains:generate"
	scopeManage   = "chains:manage"
	scopeStats    = "stats:read"
	scopeMaster   = "*"
)

// authHeader carries a raw API key. "Authorization: Bearer <key>" is accepted too.
const authHeader = "talklike-auth"

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// APIKeyConfig is one accepted key. Only the SHA-256 hash of the key is stored.
type APIKeyConfig struct {
	KeyHash     string   `json:"key_hash" yaml:"key_hash"`
	Scopes      []string `json:"scopes" yaml:"scopes"`
	Description string   `json:"description" yaml:"description"`
}

// Permissions holds the authentication info for a request.
type Permissions struct {
	ScopeSet map[string]struct{} // A set for O(1) lookups
}

// Authenticator checks API keys against the configured hashes.
type Authenticator struct {
	keys   []APIKeyConfig
	logger *slog.Logger
}

// NewAuthenticator returns an Authenticator for keys. With no keys the API is open.
func NewAuthenticator(keys []APIKeyConfig, logger *slog.Logger) *Authenticator {
	return &Authenticator{keys: keys, logger: logger}
}

// Authenticate is the core auth middleware. It resolves the request's key to a
// set of scopes and stores them in the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.keys) == 0 {
			// No keys exist, API is open. Create a dummy master permission.
			ctx := context.WithValue(r.Context(), contextKeyPermissions, &Permissions{ScopeSet: map[string]struct{}{scopeMaster: {}}})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		apiKey := r.Header.Get(authHeader)
		if apiKey == "" {
			apiKey, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if apiKey == "" {
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}

		keyHash := hashAPIKey(apiKey)
		for _, key := range a.keys {
			if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(key.KeyHash))) != 1 {
				continue
			}
			scopeSet := make(map[string]struct{}, len(key.Scopes))
			for _, s := range key.Scopes {
				scopeSet[s] = struct{}{}
			}
			ctx := context.WithValue(r.Context(), contextKeyPermissions, &Permissions{ScopeSet: scopeSet})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		a.logger.Warn("Rejected API key", slog.String("remote_addr", r.RemoteAddr), slog.String("path", r.URL.Path))
		respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	})
}

// requireScope rejects requests whose permissions lack scope.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasScope(r, scope) {
				respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasScope checks if the permission set in the request context includes a required scope.
func hasScope(r *http.Request, requiredScope string) bool {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		return false
	}

	if _, isMaster := perms.ScopeSet[scopeMaster]; isMaster {
		return true
	}

	_, has := perms.ScopeSet[requiredScope]
	return has
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "tlk_" + hex.EncodeToString(bytes), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
