package application

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-agent/middleware/telemetry/domain"
)

func TestRequestLogger_GetAndReset(t *testing.T) {
	l := NewRequestLogger()
	l.LogRequest("", "get", "/test", 200, 105*time.Millisecond)
	l.LogRequest("", "GET", "/test", 200, 227*time.Millisecond)
	require.Equal(t, 1, l.Len())

	data := l.GetAndReset()
	assert.Equal(t, 0, l.Len())
	require.Len(t, data, 1)

	item := data[0]
	assert.Equal(t, "GET", item.Method)
	assert.Equal(t, "/test", item.Path)
	assert.Equal(t, 200, item.StatusCode)
	assert.Equal(t, 2, item.RequestCount)
	assert.Equal(t, map[int]int{100: 1, 220: 1}, item.ResponseTimes)

	assert.Empty(t, l.GetAndReset(), "second read after reset must be empty")
}

func TestRequestLogger_SeparatesBucketsAndSorts(t *testing.T) {
	l := NewRequestLogger()
	l.LogRequest("", "GET", "/test", 422, 20*time.Millisecond)
	l.LogRequest("", "GET", "/test", 200, 10*time.Millisecond)
	l.LogRequest("key:1", "GET", "/test", 200, 10*time.Millisecond)
	l.LogRequest("", "GET", "", 200, time.Millisecond) // sem path: ignorado

	data := l.GetAndReset()
	require.Len(t, data, 3)
	assert.Equal(t, 200, data[0].StatusCode)
	assert.Equal(t, "", data[0].Consumer)
	assert.Equal(t, "key:1", data[1].Consumer)
	assert.Equal(t, 422, data[2].StatusCode)
}

func TestRequestLogger_ConcurrentStealLosesNothing(t *testing.T) {
	l := NewRequestLogger()

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				l.LogRequest("", "GET", "/items/{id}", 200, time.Millisecond)
			}
		}()
	}

	total := 0
	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	for running := true; running; {
		select {
		case <-stopped:
			running = false
		default:
		}
		for _, item := range l.GetAndReset() {
			total += item.RequestCount
		}
	}
	for _, item := range l.GetAndReset() {
		total += item.RequestCount
	}
	assert.Equal(t, workers*perWorker, total)
}

func TestValidationErrorLogger_CountsDistinctPairs(t *testing.T) {
	l := NewValidationErrorLogger()
	l.LogValidationErrors("", "GET", "/test", []domain.ValidationErrorDetail{
		{Loc: []string{"query", "foo"}, Type: "type_error.integer", Msg: "value is not a valid integer"},
	})

	data := l.GetAndReset()
	require.Len(t, data, 1)
	assert.Equal(t, 1, data[0].ErrorCount)
	assert.Equal(t, []string{"query", "foo"}, data[0].Loc)
	assert.Equal(t, "type_error.integer", data[0].Type)
	assert.Equal(t, "value is not a valid integer", data[0].Msg)
	assert.Empty(t, l.GetAndReset())
}

func TestValidationErrorLogger_CountsEveryDetail(t *testing.T) {
	l := NewValidationErrorLogger()
	dup := domain.ValidationErrorDetail{Loc: []string{"body", "name"}, Msg: "field required", Type: "missing"}
	other := domain.ValidationErrorDetail{Loc: []string{"body", "age"}, Msg: "field required", Type: "missing"}

	l.LogValidationErrors("", "POST", "/users", []domain.ValidationErrorDetail{dup, dup, other})
	l.LogValidationErrors("", "POST", "/users", []domain.ValidationErrorDetail{dup})
	l.LogValidationErrors("", "POST", "/users", nil)

	data := l.GetAndReset()
	require.Len(t, data, 2)
	assert.Equal(t, []string{"body", "age"}, data[0].Loc)
	assert.Equal(t, 1, data[0].ErrorCount)
	assert.Equal(t, []string{"body", "name"}, data[1].Loc)
	assert.Equal(t, 3, data[1].ErrorCount)
}

func TestValidationErrorLogger_MsgIsPartOfKey(t *testing.T) {
	l := NewValidationErrorLogger()
	l.LogValidationErrors("", "GET", "/items", []domain.ValidationErrorDetail{
		{Loc: []string{"query", "limit"}, Msg: "must be positive", Type: "value_error"},
		{Loc: []string{"query", "limit"}, Msg: "must be below 100", Type: "value_error"},
	})

	data := l.GetAndReset()
	require.Len(t, data, 2)
	assert.Equal(t, "must be below 100", data[0].Msg)
	assert.Equal(t, 1, data[0].ErrorCount)
	assert.Equal(t, "must be positive", data[1].Msg)
	assert.Equal(t, 1, data[1].ErrorCount)
}
