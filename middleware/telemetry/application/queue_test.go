package application

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-agent/middleware/telemetry/domain"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func payloadAt(at time.Time, id string) domain.TimestampedPayload {
	return domain.TimestampedPayload{EnqueuedAt: at, Payload: domain.RequestsPayload{MessageUUID: id}}
}

func TestDeliveryQueue_DrainSendsOldestFirstWithOffset(t *testing.T) {
	q := NewDeliveryQueue()
	q.Push(payloadAt(t0, "a"))
	q.Push(payloadAt(t0.Add(30*time.Second), "b"))

	var sent []domain.RequestsPayload
	res := q.Drain(t0.Add(time.Minute), MaxQueueTime, func(p domain.RequestsPayload) error {
		sent = append(sent, p)
		return nil
	})

	assert.Equal(t, DrainResult{Sent: 2}, res)
	require.Len(t, sent, 2)
	assert.Equal(t, "a", sent[0].MessageUUID)
	assert.Equal(t, 60.0, sent[0].TimeOffset)
	assert.Equal(t, "b", sent[1].MessageUUID)
	assert.Equal(t, 30.0, sent[1].TimeOffset)
	assert.Equal(t, 0, q.Len())
}

func TestDeliveryQueue_DropsStaleWithoutSending(t *testing.T) {
	q := NewDeliveryQueue()
	q.Push(payloadAt(t0, "stale"))

	calls := 0
	res := q.Drain(t0.Add(MaxQueueTime+time.Second), MaxQueueTime, func(domain.RequestsPayload) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 0, q.Len())
}

func TestDeliveryQueue_FailedEntryKeepsOriginalTimestamp(t *testing.T) {
	q := NewDeliveryQueue()
	q.Push(payloadAt(t0, "a"))
	q.Push(payloadAt(t0.Add(time.Second), "b"))

	boom := &domain.TransportError{Op: "send", StatusCode: 503}
	calls := 0
	res := q.Drain(t0.Add(time.Minute), MaxQueueTime, func(domain.RequestsPayload) error {
		calls++
		return boom
	})

	// para na primeira falha; "b" nem é tentado
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, res.Requeued)
	assert.True(t, errors.Is(res.Err, boom))

	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, t0, items[0].EnqueuedAt)
	assert.Equal(t, "a", items[0].Payload.MessageUUID)
	assert.Equal(t, 0.0, items[0].Payload.TimeOffset, "offset is computed per attempt, not stored")
	assert.Equal(t, "b", items[1].Payload.MessageUUID)

	// próximo drain: volta a tentar do mais antigo
	var sent []string
	res = q.Drain(t0.Add(2*time.Minute), MaxQueueTime, func(p domain.RequestsPayload) error {
		sent = append(sent, p.MessageUUID)
		return nil
	})
	assert.Equal(t, []string{"a", "b"}, sent)
	assert.Equal(t, 2, res.Sent)
}

func TestDeliveryQueue_RequeueDropsStaleRemainder(t *testing.T) {
	q := NewDeliveryQueue()
	q.Push(payloadAt(t0.Add(-2*time.Hour), "stale"))
	q.Push(payloadAt(t0, "fails"))
	q.Push(payloadAt(t0, "untried"))

	res := q.Drain(t0.Add(time.Second), MaxQueueTime, func(domain.RequestsPayload) error {
		return errors.New("down")
	})
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 2, res.Requeued)
	assert.Equal(t, 2, q.Len())
}
