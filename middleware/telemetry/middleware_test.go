package telemetry

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-agent/middleware/telemetry/domain"
)

type loggedRequest struct {
	Consumer, Method, Path string
	Status                 int
	Elapsed                time.Duration
}

type loggedValidation struct {
	Consumer, Method, Path string
	Details                []domain.ValidationErrorDetail
}

type fakeIngestor struct {
	mu          sync.Mutex
	requests    []loggedRequest
	validations []loggedValidation
}

func (f *fakeIngestor) LogRequest(consumer, method, path string, status int, elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, loggedRequest{consumer, method, path, status, elapsed})
}

func (f *fakeIngestor) LogValidationErrors(consumer, method, path string, details []domain.ValidationErrorDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations = append(f.validations, loggedValidation{consumer, method, path, details})
}

func newTestMux() *Routes {
	routes := NewRoutes(nil)
	routes.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	routes.HandleFunc("GET /plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	routes.HandleFunc("POST /items", func(w http.ResponseWriter, r *http.Request) {
		SetConsumer(r.Context(), "tenant-a")
		AddValidationErrors(r.Context(), domain.ValidationErrorDetail{
			Loc: []string{"body", "name"}, Msg: "field required", Type: "value_error.missing",
		})
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	routes.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	return routes
}

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	ing := &fakeIngestor{}
	h := Middleware(Options{Client: ing})(newTestMux())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/items/42", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/plain", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, ing.requests, 2)
	assert.Equal(t, "GET", ing.requests[0].Method)
	assert.Equal(t, "/items/{id}", ing.requests[0].Path)
	assert.Equal(t, http.StatusCreated, ing.requests[0].Status)
	// sem WriteHeader explícito o status é 200
	assert.Equal(t, "/plain", ing.requests[1].Path)
	assert.Equal(t, http.StatusOK, ing.requests[1].Status)
}

func TestMiddleware_UnhandledPaths(t *testing.T) {
	ing := &fakeIngestor{}
	h := Middleware(Options{Client: ing})(newTestMux())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, ing.requests)

	h = Middleware(Options{Client: ing, IncludeUnhandledPaths: true})(newTestMux())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/nope", nil))
	require.Len(t, ing.requests, 1)
	assert.Equal(t, "/nope", ing.requests[0].Path)
	assert.Equal(t, http.StatusNotFound, ing.requests[0].Status)
}

func TestMiddleware_ConsumerAndValidationErrors(t *testing.T) {
	ing := &fakeIngestor{}
	h := Middleware(Options{
		Client:     ing,
		ConsumerFn: func(r *http.Request) string { return "fallback" },
	})(newTestMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "http://example/items", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/plain", nil))

	require.Len(t, ing.requests, 2)
	assert.Equal(t, "tenant-a", ing.requests[0].Consumer)
	assert.Equal(t, http.StatusUnprocessableEntity, ing.requests[0].Status)
	assert.Equal(t, "fallback", ing.requests[1].Consumer)

	require.Len(t, ing.validations, 1)
	v := ing.validations[0]
	assert.Equal(t, "tenant-a", v.Consumer)
	assert.Equal(t, "/items", v.Path)
	require.Len(t, v.Details, 1)
	assert.Equal(t, "value_error.missing", v.Details[0].Type)
}

func TestMiddleware_PanicRecordedAs500(t *testing.T) {
	ing := &fakeIngestor{}
	h := Middleware(Options{Client: ing})(newTestMux())

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/boom", nil))
	})
	require.Len(t, ing.requests, 1)
	assert.Equal(t, "/boom", ing.requests[0].Path)
	assert.Equal(t, http.StatusInternalServerError, ing.requests[0].Status)
}

func TestMiddleware_RequiresClient(t *testing.T) {
	assert.Panics(t, func() { Middleware(Options{}) })
}

func TestSetConsumer_OutsideMiddlewareIsNoOp(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	SetConsumer(r.Context(), "x")
	AddValidationErrors(r.Context(), domain.ValidationErrorDetail{})
	assert.Empty(t, ConsumerFromContext(r.Context()))
}

func TestPatternPath(t *testing.T) {
	cases := map[string]string{
		"GET /items/{id}":         "/items/{id}",
		"/items/{id}":             "/items/{id}",
		"POST api.local/items":    "/items",
		"GET /{$}":                "/",
		"/static/{path...}":       "/static/{path...}",
		"DELETE  /items/{id}/{$}": "/items/{id}/",
	}
	for pattern, want := range cases {
		assert.Equal(t, want, patternPath(pattern), pattern)
	}
}
