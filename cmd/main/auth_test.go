package main

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	a, err := generateAPIKey()
	require.NoError(t, err)
	b, err := generateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "tlk_"))
	assert.Len(t, a, len("tlk_")+64)
	assert.NotEqual(t, a, b)
	assert.Len(t, hashAPIKey(a), 64)
	assert.Equal(t, hashAPIKey(a), hashAPIKey(a))
}

func TestAuthentication(t *testing.T) {
	trainer := "tlk_trainer"
	admin := "tlk_admin"
	env := newTestEnv(t,
		APIKeyConfig{KeyHash: hashAPIKey(trainer), Scopes: []string{scopeTrain}},
		APIKeyConfig{KeyHash: strings.ToUpper(hashAPIKey(admin)), Scopes: []string{scopeMaster}},
	)
	msg := `{"sender_id": 1, "text": "hello world"}`

	tests := []struct {
		name   string
		method string
		target string
		body   string
		header []string
		code   int
	}{
		{name: "missing key", method: http.MethodPost, target: "/api/messages", body: msg, code: http.StatusUnauthorized},
		{name: "unknown key", method: http.MethodPost, target: "/api/messages", body: msg, header: []string{authHeader, "tlk_nope"}, code: http.StatusUnauthorized},
		{name: "scoped key", method: http.MethodPost, target: "/api/messages", body: msg, header: []string{authHeader, trainer}, code: http.StatusOK},
		{name: "bearer key", method: http.MethodPost, target: "/api/messages", body: msg, header: []string{"Authorization", "Bearer " + trainer}, code: http.StatusOK},
		{name: "missing scope", method: http.MethodGet, target: "/api/stats", header: []string{authHeader, trainer}, code: http.StatusForbidden},
		{name: "master key", method: http.MethodGet, target: "/api/stats", header: []string{authHeader, admin}, code: http.StatusOK},
		{name: "health is public", method: http.MethodGet, target: "/api/health", code: http.StatusOK},
		{name: "metrics are public", method: http.MethodGet, target: "/metrics", code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body, tt.header...)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestOpenAPIWithoutKeys(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/flush", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
