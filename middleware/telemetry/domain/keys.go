package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

// KeyRecord são os metadados de uma API key conhecida pelo hub.
//
// ExpiresAt zero significa "não expira".
type KeyRecord struct {
	KeyID     int
	APIKeyID  int
	ExpiresAt time.Time
	Scopes    []string
}

// IsExpired é avaliado no momento do lookup, não no refresh.
func (k KeyRecord) IsExpired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// HasScopes retorna true se a chave possui todos os escopos pedidos.
func (k KeyRecord) HasScopes(scopes ...string) bool {
	for _, want := range scopes {
		found := false
		for _, have := range k.Scopes {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// KeysResponse é o corpo de GET {base}/keys.
type KeysResponse struct {
	Salt string                     `json:"salt"`
	Keys map[string]KeyResponseItem `json:"keys"`
}

type KeyResponseItem struct {
	KeyID            int      `json:"key_id"`
	APIKeyID         int      `json:"api_key_id"`
	ExpiresInSeconds *int64   `json:"expires_in_seconds"`
	Scopes           []string `json:"scopes"`
}

// ParseKeysResponse decodifica a resposta do hub (ou o blob do cache local).
func ParseKeysResponse(data []byte) (KeysResponse, error) {
	var resp KeysResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return KeysResponse{}, errors.Wrap(err, "decoding keys response")
	}
	if resp.Salt == "" {
		return KeysResponse{}, errors.New("keys response without salt")
	}
	return resp, nil
}

// maior expires_in_seconds que cabe num time.Duration
const maxExpiresInSeconds = math.MaxInt64 / int64(time.Second)

// Records converte a resposta em registros indexados pelo hash, resolvendo
// expires_in_seconds para um instante absoluto a partir de now.
func (r KeysResponse) Records(now time.Time) map[string]KeyRecord {
	out := make(map[string]KeyRecord, len(r.Keys))
	for hash, item := range r.Keys {
		rec := KeyRecord{
			KeyID:    item.KeyID,
			APIKeyID: item.APIKeyID,
			Scopes:   item.Scopes,
		}
		if item.ExpiresInSeconds != nil {
			secs := *item.ExpiresInSeconds
			if secs > maxExpiresInSeconds {
				secs = maxExpiresInSeconds
			}
			rec.ExpiresAt = now.Add(time.Duration(secs) * time.Second)
		}
		out[hash] = rec
	}
	return out
}

// CacheKey é a chave opaca usada pelo cache durável de chaves.
func CacheKey(clientID, env string) string {
	return "telemetry:keys:" + clientID + ":" + env
}
