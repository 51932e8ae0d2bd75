package application

import (
	"sort"
	"strings"
	"sync"

	"telemetry-agent/middleware/telemetry/domain"
)

// ValidationErrorLogger conta erros de validação por (consumer, método, path,
// loc, msg, tipo). Mesma disciplina do RequestLogger.
type ValidationErrorLogger struct {
	mu      sync.Mutex
	buckets map[domain.ValidationErrorKey]int
}

func NewValidationErrorLogger() *ValidationErrorLogger {
	return &ValidationErrorLogger{
		buckets: make(map[domain.ValidationErrorKey]int),
	}
}

// LogValidationErrors incrementa um contador para cada entrada de details,
// repetidas inclusive.
func (l *ValidationErrorLogger) LogValidationErrors(consumer, method, path string, details []domain.ValidationErrorDetail) {
	if path == "" || len(details) == 0 {
		return
	}
	method = strings.ToUpper(method)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, d := range details {
		l.buckets[domain.ValidationErrorKey{
			Consumer: consumer,
			Method:   method,
			Path:     path,
			Loc:      d.LocKey(),
			Msg:      d.Msg,
			Type:     d.Type,
		}]++
	}
}

func (l *ValidationErrorLogger) GetAndReset() []domain.ValidationErrorsItem {
	l.mu.Lock()
	stolen := l.buckets
	l.buckets = make(map[domain.ValidationErrorKey]int)
	l.mu.Unlock()

	items := make([]domain.ValidationErrorsItem, 0, len(stolen))
	for k, count := range stolen {
		items = append(items, domain.ValidationErrorsItem{
			Consumer:   k.Consumer,
			Method:     k.Method,
			Path:       k.Path,
			Loc:        domain.SplitLocKey(k.Loc),
			Msg:        k.Msg,
			Type:       k.Type,
			ErrorCount: count,
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
		if la, lb := strings.Join(a.Loc, "."), strings.Join(b.Loc, "."); la != lb {
			return la < lb
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Msg != b.Msg {
			return a.Msg < b.Msg
		}
		return a.Consumer < b.Consumer
	})
	return items
}
