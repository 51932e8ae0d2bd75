package domain

import "time"

// MaxResponseTimeBucket é o bucket de overflow do histograma, em ms.
// Tempos acima dele caem todos aqui para manter a cardinalidade limitada.
const MaxResponseTimeBucket = 60_000

// RequestKey identifica um bucket de agregação.
//
// Path é sempre o template da rota (ex: /items/{id}), nunca a URL crua.
type RequestKey struct {
	Consumer   string
	Method     string
	Path       string
	StatusCode int
}

// RequestsItem é o formato serializado de um bucket enviado ao hub.
type RequestsItem struct {
	Consumer      string      `json:"consumer,omitempty"`
	Method        string      `json:"method"`
	Path          string      `json:"path"`
	StatusCode    int         `json:"status_code"`
	RequestCount  int         `json:"request_count"`
	ResponseTimes map[int]int `json:"response_times"`
}

// ResponseTimeBucket arredonda o tempo de resposta para baixo em múltiplos de 10ms.
func ResponseTimeBucket(d time.Duration) int {
	if d < 0 {
		d = 0
	}
	bucket := int(d/time.Millisecond) / 10 * 10
	if bucket > MaxResponseTimeBucket {
		return MaxResponseTimeBucket
	}
	return bucket
}
