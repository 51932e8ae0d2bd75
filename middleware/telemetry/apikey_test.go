package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-agent/middleware/telemetry/domain"
)

type staticKeys map[string]domain.KeyRecord

func (s staticKeys) LookupKey(apiKey string) (domain.KeyRecord, bool) {
	rec, ok := s[apiKey]
	return rec, ok
}

var testKeys = staticKeys{
	"good":   {KeyID: 7, APIKeyID: 70, Scopes: []string{"read", "write"}},
	"reader": {KeyID: 8, APIKeyID: 80, Scopes: []string{"read"}},
}

func TestRequireAPIKey(t *testing.T) {
	var seen domain.KeyRecord
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = KeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := RequireAPIKey(KeyAuthOptions{Keys: testKeys, Scopes: []string{"write"}})(next)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Bearer good", http.StatusUnauthorized},
		{"empty key", "ApiKey ", http.StatusUnauthorized},
		{"unknown key", "ApiKey nope", http.StatusForbidden},
		{"missing scope", "ApiKey reader", http.StatusForbidden},
		{"valid", "ApiKey good", http.StatusOK},
		{"scheme case-insensitive", "apikey good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusUnauthorized {
				assert.Equal(t, "ApiKey", w.Header().Get("WWW-Authenticate"))
			}
		})
	}
	assert.Equal(t, 7, seen.KeyID)
}

func TestRequireAPIKey_CustomHeader(t *testing.T) {
	h := RequireAPIKey(KeyAuthOptions{Keys: testKeys, CustomHeader: "X-Api-Key"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("WWW-Authenticate"))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-Api-Key", "reader")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAPIKey_SetsConsumerInsideMiddleware(t *testing.T) {
	ing := &fakeIngestor{}
	routes := NewRoutes(nil)
	routes.Handle("GET /secure", RequireAPIKey(KeyAuthOptions{Keys: testKeys})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	h := Middleware(Options{Client: ing})(routes)

	r := httptest.NewRequest(http.MethodGet, "http://example/secure", nil)
	r.Header.Set("Authorization", "ApiKey good")
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.Len(t, ing.requests, 1)
	assert.Equal(t, "key:7", ing.requests[0].Consumer)
	assert.Equal(t, "/secure", ing.requests[0].Path)
}
