package domain

import "context"

// Hub é o transporte para o serviço remoto.
//
// Implementações devem devolver ErrClientNotRecognized (possivelmente
// embrulhado) quando o hub não reconhece o cliente, e *TransportError para
// falhas que valem nova tentativa.
type Hub interface {
	SendAppInfo(ctx context.Context, payload AppInfoPayload) error
	SendRequests(ctx context.Context, payload RequestsPayload) error
	// FetchKeys devolve o corpo cru; ele é gravado como está no KeyCache.
	FetchKeys(ctx context.Context) ([]byte, error)
}

// KeyCache guarda o último snapshot de chaves para partida a quente.
// Erros são tratados como best-effort pelo chamador.
type KeyCache interface {
	Store(ctx context.Context, data []byte) error
	Retrieve(ctx context.Context) (data []byte, ok bool, err error)
}

// ShutdownHooks é a capacidade, fornecida pelo host, de rodar funções na
// saída do processo.
type ShutdownHooks interface {
	Register(fn func())
}

// MetricsRecorder recebe as métricas internas do agente.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// Nomes das métricas internas.
const (
	MetricPayloadsSent     = "payloads_sent"
	MetricPayloadsDropped  = "payloads_dropped"
	MetricPayloadsRequeued = "payloads_requeued"
	MetricKeyRefreshes     = "key_refreshes"
	MetricSendSeconds      = "send_seconds"
	MetricQueueLength      = "queue_length"
)

// NoOpMetricsRecorder evita checar recorder != nil no caminho quente.
type NoOpMetricsRecorder struct{}

func (NoOpMetricsRecorder) Add(string, float64, map[string]string)     {}
func (NoOpMetricsRecorder) Observe(string, float64, map[string]string) {}
