package telemetry

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"telemetry-agent/middleware/telemetry/domain"
)

// Ingestor é o lado do agente que o middleware alimenta.
// *application.Client satisfaz esta interface.
type Ingestor interface {
	LogRequest(consumer, method, path string, statusCode int, elapsed time.Duration)
	LogValidationErrors(consumer, method, path string, details []domain.ValidationErrorDetail)
}

// RouteFunc resolve o template da rota atendida. Chamada depois do handler.
type RouteFunc func(r *http.Request) domain.RouteMatch

// ConsumerFunc identifica o consumidor quando o handler não chamou SetConsumer.
type ConsumerFunc func(r *http.Request) string

type Options struct {
	Client     Ingestor
	RouteFn    RouteFunc
	ConsumerFn ConsumerFunc
	// IncludeUnhandledPaths registra também requisições sem rota, com o path
	// cru. Desligado por padrão para não explodir a cardinalidade.
	IncludeUnhandledPaths bool
}

type scopeKey struct{}

// requestScope acumula o que os handlers reportam durante uma requisição.
type requestScope struct {
	mu               sync.Mutex
	consumer         string
	validationErrors []domain.ValidationErrorDetail
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(scopeKey{}).(*requestScope)
	return s
}

// SetConsumer atribui a requisição corrente a um consumidor.
// Fora do Middleware é no-op.
func SetConsumer(ctx context.Context, consumer string) {
	if s := scopeFrom(ctx); s != nil {
		s.mu.Lock()
		s.consumer = consumer
		s.mu.Unlock()
	}
}

// ConsumerFromContext devolve o consumidor definido até agora, se houver.
func ConsumerFromContext(ctx context.Context) string {
	s := scopeFrom(ctx)
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumer
}

// AddValidationErrors reporta erros de validação da requisição corrente.
// Eles são registrados junto com a requisição quando o handler retorna.
func AddValidationErrors(ctx context.Context, details ...domain.ValidationErrorDetail) {
	if s := scopeFrom(ctx); s != nil {
		s.mu.Lock()
		s.validationErrors = append(s.validationErrors, details...)
		s.mu.Unlock()
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Client == nil {
		panic("telemetry: Options.Client is required")
	}
	if opts.RouteFn == nil {
		opts.RouteFn = PatternRoute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			scope := &requestScope{}
			r = r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				// panic conta como 500 e segue adiante para o recover do host
				if p := recover(); p != nil {
					rec.status = http.StatusInternalServerError
					record(opts, r, rec.status, time.Since(start), scope)
					panic(p)
				}
				record(opts, r, rec.status, time.Since(start), scope)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

func record(opts Options, r *http.Request, status int, elapsed time.Duration, scope *requestScope) {
	route := opts.RouteFn(r)
	if !route.Matched && !opts.IncludeUnhandledPaths {
		return
	}

	scope.mu.Lock()
	consumer := scope.consumer
	details := scope.validationErrors
	scope.mu.Unlock()
	if consumer == "" && opts.ConsumerFn != nil {
		consumer = opts.ConsumerFn(r)
	}

	opts.Client.LogRequest(consumer, r.Method, route.Template, status, elapsed)
	if len(details) > 0 {
		opts.Client.LogValidationErrors(consumer, r.Method, route.Template, details)
	}
}

// PatternRoute lê o padrão que o http.ServeMux casou (Go 1.22+). O método e o
// host do padrão são removidos: "GET api.local/items/{id}" vira "/items/{id}".
func PatternRoute(r *http.Request) domain.RouteMatch {
	if r.Pattern == "" {
		return domain.UnmatchedRoute(r.URL.Path)
	}
	return domain.MatchedRoute(patternPath(r.Pattern))
}

func patternPath(pattern string) string {
	p := pattern
	if i := strings.IndexAny(p, " \t"); i >= 0 {
		p = strings.TrimSpace(p[i+1:])
	}
	if i := strings.Index(p, "/"); i > 0 {
		p = p[i:]
	}
	p = strings.TrimSuffix(p, "{$}")
	if p == "" {
		p = "/"
	}
	return p
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		r.wroteHeader = true
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("telemetry: response writer does not support hijacking")
	}
	return h.Hijack()
}
