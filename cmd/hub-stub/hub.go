package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"telemetry-agent/middleware/telemetry/application"
	"telemetry-agent/middleware/telemetry/domain"
)

// stubKey é uma chave servida em GET /keys: "segredo=key_id:escopo1|escopo2".
type stubKey struct {
	secret string
	keyID  int
	scopes []string
}

func parseStubKey(s string) (stubKey, error) {
	secret, rest, ok := strings.Cut(s, "=")
	if !ok || secret == "" {
		return stubKey{}, errors.Errorf("api key %q must look like secret=id[:scope|scope]", s)
	}
	idStr, scopes, _ := strings.Cut(rest, ":")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return stubKey{}, errors.Wrapf(err, "api key %q has an invalid id", s)
	}
	k := stubKey{secret: secret, keyID: id, scopes: []string{}}
	if scopes != "" {
		k.scopes = strings.Split(scopes, "|")
	}
	return k, nil
}

type stubStats struct {
	AppInfo          int `json:"app_info"`
	RequestPayloads  int `json:"request_payloads"`
	Requests         int `json:"requests"`
	ValidationErrors int `json:"validation_errors"`
	KeyFetches       int `json:"key_fetches"`
	Duplicates       int `json:"duplicates"`
	Throttled        int `json:"throttled"`
}

// hubStub é um hub local para rodar o agente ponta a ponta.
type hubStub struct {
	clients map[string]bool
	keys    []byte
	limiter *clientLimiter
	log     log.FieldLogger

	mu    sync.Mutex
	stats stubStats
	seen  map[string]bool // message_uuid já recebidos
}

func newHubStub(clientIDs []string, keys []stubKey, salt string, limiter *clientLimiter, logger log.FieldLogger) (*hubStub, error) {
	resp := domain.KeysResponse{Salt: salt, Keys: map[string]domain.KeyResponseItem{}}
	for _, k := range keys {
		hash, err := application.HashAPIKey(k.secret, salt)
		if err != nil {
			return nil, errors.Wrap(err, "hashing api key")
		}
		resp.Keys[hash] = domain.KeyResponseItem{KeyID: k.keyID, APIKeyID: k.keyID, Scopes: k.scopes}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}

	h := &hubStub{
		clients: make(map[string]bool, len(clientIDs)),
		keys:    body,
		limiter: limiter,
		log:     logger,
		seen:    make(map[string]bool),
	}
	for _, id := range clientIDs {
		h.clients[id] = true
	}
	return h, nil
}

func (h *hubStub) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/{client}/{env}/info", h.guard(h.handleInfo))
	mux.HandleFunc("POST /v1/{client}/{env}/requests", h.guard(h.handleRequests))
	mux.HandleFunc("GET /v1/{client}/{env}/keys", h.guard(h.handleKeys))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.snapshot())
	})
	return mux
}

// guard responde 404 para clientes desconhecidos e 429 quando o limite estoura.
func (h *hubStub) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := r.PathValue("client")
		if len(h.clients) > 0 && !h.clients[client] {
			h.log.WithField("client_id", client).Warn("unknown client id")
			http.NotFound(w, r)
			return
		}
		if !h.limiter.Allow(client) {
			h.mu.Lock()
			h.stats.Throttled++
			h.mu.Unlock()
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (h *hubStub) handleInfo(w http.ResponseWriter, r *http.Request) {
	var payload domain.AppInfoPayload
	if err := decodeBody(r, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.stats.AppInfo++
	h.mu.Unlock()

	h.log.WithFields(log.Fields{
		"env":       r.PathValue("env"),
		"paths":     len(payload.Paths),
		"client":    payload.Client,
		"framework": payload.Framework,
	}).Info("received app info")
	w.WriteHeader(http.StatusAccepted)
}

func (h *hubStub) handleRequests(w http.ResponseWriter, r *http.Request) {
	var payload domain.RequestsPayload
	if err := decodeBody(r, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	duplicate := h.seen[payload.MessageUUID]
	if duplicate {
		h.stats.Duplicates++
	} else {
		h.seen[payload.MessageUUID] = true
		h.stats.RequestPayloads++
		for _, item := range payload.Requests {
			h.stats.Requests += item.RequestCount
		}
		for _, item := range payload.ValidationErrors {
			h.stats.ValidationErrors += item.ErrorCount
		}
	}
	h.mu.Unlock()

	h.log.WithFields(log.Fields{
		"env":          r.PathValue("env"),
		"message_uuid": payload.MessageUUID,
		"buckets":      len(payload.Requests),
		"time_offset":  payload.TimeOffset,
		"duplicate":    duplicate,
	}).Info("received requests data")
	w.WriteHeader(http.StatusAccepted)
}

func (h *hubStub) handleKeys(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.stats.KeyFetches++
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.keys)
}

func (h *hubStub) snapshot() stubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func decodeBody(r *http.Request, v any) error {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return errors.Wrap(err, "invalid gzip body")
		}
		defer zr.Close()
		body = zr
	}
	return errors.Wrap(json.NewDecoder(body).Decode(v), "invalid json body")
}
