package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"telemetry-agent/middleware/telemetry/domain"
)

const (
	DefaultHubURL = "https://hub.apitally.io"
	HubVersion    = "v1"

	// RequestTimeout é o timeout fixo de cada requisição ao hub.
	RequestTimeout = 10 * time.Second

	defaultAttempts      = 3
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 10 * time.Second

	maxKeysResponseBytes = 10 << 20
)

// HubClient implementa domain.Hub sobre HTTP.
//
// Cada chamada faz até `attempts` tentativas com backoff exponencial. Um 404
// vira domain.ErrClientNotRecognized e não é repetido.
type HubClient struct {
	baseURL       string
	http          *http.Client
	attempts      uint
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	log           logrus.FieldLogger
}

type HubOption func(*HubClient)

func WithHubURL(url string) HubOption {
	return func(h *HubClient) { h.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient permite reusar um *http.Client (e seu pool de conexões).
func WithHTTPClient(c *http.Client) HubOption {
	return func(h *HubClient) { h.http = c }
}

func WithAttempts(n uint) HubOption {
	return func(h *HubClient) { h.attempts = n }
}

// WithRetryDelay define o atraso inicial do backoff e o teto.
func WithRetryDelay(initial, max time.Duration) HubOption {
	return func(h *HubClient) {
		h.retryDelay = initial
		h.maxRetryDelay = max
	}
}

func WithHubLogger(log logrus.FieldLogger) HubOption {
	return func(h *HubClient) { h.log = log }
}

func NewHubClient(clientID, env string, opts ...HubOption) *HubClient {
	h := &HubClient{
		baseURL:       DefaultHubURL,
		http:          &http.Client{Timeout: RequestTimeout},
		attempts:      defaultAttempts,
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		log:           logrus.StandardLogger().WithField("component", "telemetry-hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.attempts == 0 {
		h.attempts = 1
	}
	h.baseURL = h.baseURL + "/" + HubVersion + "/" + clientID + "/" + env
	return h
}

// BaseURL é {hub}/v1/{client_id}/{env}.
func (h *HubClient) BaseURL() string { return h.baseURL }

func (h *HubClient) SendAppInfo(ctx context.Context, payload domain.AppInfoPayload) error {
	return h.postJSON(ctx, "/info", payload)
}

func (h *HubClient) SendRequests(ctx context.Context, payload domain.RequestsPayload) error {
	return h.postJSON(ctx, "/requests", payload)
}

func (h *HubClient) FetchKeys(ctx context.Context) ([]byte, error) {
	const op = "GET /keys"
	var body []byte
	err := h.withRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/keys", nil)
		if err != nil {
			return errors.Wrap(err, "building hub request")
		}
		resp, err := h.http.Do(req)
		if err != nil {
			return &domain.TransportError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		if err := checkStatus(op, resp.StatusCode); err != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return err
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxKeysResponseBytes))
		if err != nil {
			return &domain.TransportError{Op: op, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (h *HubClient) postJSON(ctx context.Context, path string, payload any) error {
	op := "POST " + path
	body, err := gzipJSON(payload)
	if err != nil {
		return errors.Wrapf(err, "encoding %s payload", path)
	}
	return h.withRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "building hub request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")

		resp, err := h.http.Do(req)
		if err != nil {
			return &domain.TransportError{Op: op, Err: err}
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		return checkStatus(op, resp.StatusCode)
	})
}

func (h *HubClient) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(h.attempts),
		retry.Delay(h.retryDelay),
		retry.MaxDelay(h.maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, domain.ErrClientNotRecognized)
		}),
		retry.OnRetry(func(n uint, err error) {
			h.log.WithError(err).WithField("attempt", n+1).Debugf("%s failed", op)
		}),
	)
}

func checkStatus(op string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return errors.Wrap(domain.ErrClientNotRecognized, op)
	case status < 200 || status >= 300:
		return &domain.TransportError{Op: op, StatusCode: status}
	}
	return nil
}

func gzipJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
