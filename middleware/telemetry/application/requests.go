package application

import (
	"sort"
	"strings"
	"sync"
	"time"

	"telemetry-agent/middleware/telemetry/domain"
)

type requestBucket struct {
	count         int
	responseTimes map[int]int
}

// RequestLogger acumula contagem e histograma de tempo de resposta por
// (consumer, método, path, status).
//
// O lock cobre só a atualização do map; serialização acontece fora dele.
type RequestLogger struct {
	mu      sync.Mutex
	buckets map[domain.RequestKey]*requestBucket
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{
		buckets: make(map[domain.RequestKey]*requestBucket),
	}
}

func (l *RequestLogger) LogRequest(consumer, method, path string, statusCode int, elapsed time.Duration) {
	if path == "" {
		return
	}
	key := domain.RequestKey{
		Consumer:   consumer,
		Method:     strings.ToUpper(method),
		Path:       path,
		StatusCode: statusCode,
	}
	bin := domain.ResponseTimeBucket(elapsed)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &requestBucket{responseTimes: make(map[int]int)}
		l.buckets[key] = b
	}
	b.count++
	b.responseTimes[bin]++
}

// GetAndReset troca o map vivo por um vazio e devolve o conteúdo anterior.
func (l *RequestLogger) GetAndReset() []domain.RequestsItem {
	l.mu.Lock()
	stolen := l.buckets
	l.buckets = make(map[domain.RequestKey]*requestBucket)
	l.mu.Unlock()

	items := make([]domain.RequestsItem, 0, len(stolen))
	for k, b := range stolen {
		items = append(items, domain.RequestsItem{
			Consumer:      k.Consumer,
			Method:        k.Method,
			Path:          k.Path,
			StatusCode:    k.StatusCode,
			RequestCount:  b.count,
			ResponseTimes: b.responseTimes,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		if a.StatusCode != b.StatusCode {
			return a.StatusCode < b.StatusCode
		}
		return a.Consumer < b.Consumer
	})
	return items
}

// Len é o número de buckets vivos.
func (l *RequestLogger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
