package application

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"telemetry-agent/middleware/telemetry/domain"
)

// MaxQueueTime é o teto de idade de um payload na fila. Mais velho que isso
// é descartado sem envio.
const MaxQueueTime = time.Hour

// DrainResult resume uma passada de Drain.
type DrainResult struct {
	Sent     int
	Dropped  int
	Requeued int
	// Err é o erro da primeira entrega que falhou, se houve.
	Err error
}

// DeliveryQueue é a área de espera FIFO dos snapshots serializados.
type DeliveryQueue struct {
	mu    sync.Mutex
	items []domain.TimestampedPayload
}

func NewDeliveryQueue() *DeliveryQueue {
	return &DeliveryQueue{}
}

func (q *DeliveryQueue) Push(p domain.TimestampedPayload) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
}

func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items devolve uma cópia da fila, do mais antigo ao mais novo.
func (q *DeliveryQueue) Items() []domain.TimestampedPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.TimestampedPayload, len(q.items))
	copy(out, q.items)
	return out
}

// Drain esvazia a fila do mais antigo ao mais novo.
//
// Entradas com idade > maxAge são descartadas sem chamar send. As demais vão
// com TimeOffset = idade em segundos. Na primeira falha de envio a entrada e o
// resto ainda não tentado voltam para a frente da fila com o EnqueuedAt
// original; o resto só é tentado no próximo drain.
//
// O lock não é mantido durante send.
func (q *DeliveryQueue) Drain(now time.Time, maxAge time.Duration, send func(domain.RequestsPayload) error) DrainResult {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	var (
		res    DrainResult
		failed []domain.TimestampedPayload
	)
	for i, item := range pending {
		age := item.Age(now)
		if age > maxAge {
			res.Dropped++
			continue
		}
		p := item.Payload
		p.TimeOffset = age.Seconds()
		if err := send(p); err != nil {
			res.Err = errors.Wrap(err, "delivering queued payload")
			failed = append(failed, item)
			for _, rest := range pending[i+1:] {
				if rest.Age(now) > maxAge {
					res.Dropped++
					continue
				}
				failed = append(failed, rest)
			}
			break
		}
		res.Sent++
	}

	res.Requeued = len(failed)
	if len(failed) > 0 {
		q.mu.Lock()
		// o que foi enfileirado durante o drain fica depois dos que falharam
		q.items = append(failed, q.items...)
		q.mu.Unlock()
	}
	return res
}
