package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"telemetry-agent/middleware/telemetry/domain"
)

const cacheTimeout = 2 * time.Second

// Client é dono dos agregadores, do registro de chaves e da fila de entrega, e
// roda o único loop de sincronização em background.
//
// Os métodos de ingestão (LogRequest, LogValidationErrors, LookupKey) são
// seguros para chamadas concorrentes e nunca fazem I/O.
type Client struct {
	cfg      Config
	hub      domain.Hub
	cache    domain.KeyCache
	log      logrus.FieldLogger
	clock    clock.WithTicker
	recorder domain.MetricsRecorder
	hooks    domain.ShutdownHooks

	requests         *RequestLogger
	validationErrors *ValidationErrorLogger
	keys             *KeyRegistry
	queue            *DeliveryQueue

	instanceUUID string

	appInfoMu sync.Mutex
	appInfo   *domain.AppInfoPayload // pendente até o primeiro envio com sucesso

	mu   sync.Mutex // protege stop, done, stopping e hooksRegistered
	stop chan struct{}
	done chan struct{}
	// stopping fica true entre o close(stop) e o fim do join
	stopping        bool
	hooksRegistered bool
	halted          atomic.Bool

	warnSometimes rate.Sometimes
}

type Option func(*Client)

func WithKeyCache(cache domain.KeyCache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

func WithClock(clk clock.WithTicker) Option {
	return func(c *Client) { c.clock = clk }
}

func WithRecorder(rec domain.MetricsRecorder) Option {
	return func(c *Client) { c.recorder = rec }
}

// WithShutdownHooks faz Start registrar Stop nos hooks de saída do host.
func WithShutdownHooks(hooks domain.ShutdownHooks) Option {
	return func(c *Client) { c.hooks = hooks }
}

func NewClient(cfg Config, hub domain.Hub, opts ...Option) (*Client, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hub == nil {
		return nil, errors.Wrap(domain.ErrInvalidConfig, "hub transport is required")
	}

	c := &Client{
		cfg:              cfg,
		hub:              hub,
		clock:            clock.RealClock{},
		recorder:         domain.NoOpMetricsRecorder{},
		requests:         NewRequestLogger(),
		validationErrors: NewValidationErrorLogger(),
		queue:            NewDeliveryQueue(),
		instanceUUID:     uuid.NewString(),
		warnSometimes:    rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.StandardLogger().WithField("component", "telemetry")
	}
	c.keys = NewKeyRegistry(c.clock)

	if c.cache != nil && cfg.SyncAPIKeys {
		c.loadKeysFromCache()
	}
	return c, nil
}

func (c *Client) Config() Config { return c.cfg }

// LogRequest registra uma requisição concluída. path deve ser o template da rota.
func (c *Client) LogRequest(consumer, method, path string, statusCode int, elapsed time.Duration) {
	c.requests.LogRequest(consumer, method, path, statusCode, elapsed)
}

func (c *Client) LogValidationErrors(consumer, method, path string, details []domain.ValidationErrorDetail) {
	c.validationErrors.LogValidationErrors(consumer, method, path, details)
}

func (c *Client) LookupKey(apiKey string) (domain.KeyRecord, bool) {
	return c.keys.Lookup(apiKey)
}

// QueueLen é o número de payloads aguardando envio.
func (c *Client) QueueLen() int { return c.queue.Len() }

// Halted informa se o hub rejeitou o client id e a sync parou de vez.
func (c *Client) Halted() bool { return c.halted.Load() }

// AppInfoPending informa se há app info aguardando confirmação do hub.
func (c *Client) AppInfoPending() bool {
	c.appInfoMu.Lock()
	defer c.appInfoMu.Unlock()
	return c.appInfo != nil
}

// Start inicia o loop de sincronização. Chamadas repetidas são no-op, assim
// como chamadas depois de uma rejeição do client id e chamadas feitas enquanto
// um Stop ainda espera a goroutine anterior sair.
func (c *Client) Start() {
	c.mu.Lock()
	if c.halted.Load() || c.done != nil {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)

	register := c.hooks != nil && !c.hooksRegistered
	c.hooksRegistered = c.hooksRegistered || register
	c.mu.Unlock()

	// fora do lock: o host pode chamar Stop de dentro de Register
	if register {
		c.hooks.Register(c.Stop)
	}
}

// Stop sinaliza o loop, espera a iteração corrente terminar e o envio final do
// que restou na fila. Retorna só depois que a goroutine saiu.
func (c *Client) Stop() {
	c.mu.Lock()
	done := c.done
	if done == nil {
		c.mu.Unlock()
		return
	}
	if !c.stopping {
		c.stopping = true
		close(c.stop)
	}
	c.mu.Unlock()

	<-done

	// done só é limpo depois do join: até aqui Start continua vendo o loop
	c.mu.Lock()
	if c.done == done {
		c.stop, c.done = nil, nil
		c.stopping = false
	}
	c.mu.Unlock()
}

type loopState struct {
	lastSync        time.Time
	lastKeySync     time.Time
	lastAppInfoSync time.Time
	iterations      int
}

func (c *Client) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st loopState
	for {
		c.tick(ctx, &st)
		if c.halted.Load() {
			return
		}
		select {
		case <-stop:
			// envio final, para não perder o que foi coletado desde a última sync
			c.sendRequests(ctx)
			return
		case <-ticker.C():
		}
	}
}

// tick multiplexa as três tarefas periódicas: métricas, chaves e app info.
func (c *Client) tick(ctx context.Context, st *loopState) {
	defer func() { st.iterations++ }()

	now := c.clock.Now()
	if st.lastSync.IsZero() || now.Sub(st.lastSync) >= c.cfg.SyncInterval {
		c.sendRequests(ctx)
		st.lastSync = now
	}
	if c.halted.Load() {
		return
	}

	if c.cfg.SyncAPIKeys && (st.lastKeySync.IsZero() || now.Sub(st.lastKeySync) >= c.cfg.KeySyncInterval) {
		c.RefreshKeys(ctx)
		st.lastKeySync = now
	}
	if c.halted.Load() {
		return
	}

	// app info não vai na primeira iteração: dá tempo do host registrar as rotas
	if st.iterations > 0 && c.AppInfoPending() && now.Sub(st.lastAppInfoSync) >= c.cfg.SyncInterval {
		c.sendAppInfo(ctx)
		st.lastAppInfoSync = now
	}
}

// sendRequests enfileira um snapshot dos agregadores e drena a fila.
func (c *Client) sendRequests(ctx context.Context) {
	if c.halted.Load() {
		return
	}
	c.enqueueSnapshot()

	res := c.queue.Drain(c.clock.Now(), c.cfg.MaxQueueTime, func(p domain.RequestsPayload) error {
		start := c.clock.Now()
		err := c.hub.SendRequests(ctx, p)
		c.recorder.Observe(domain.MetricSendSeconds, c.clock.Since(start).Seconds(), map[string]string{"endpoint": "requests"})
		if err == nil {
			c.log.WithField("message_uuid", p.MessageUUID).Debug("sent requests data")
		}
		return err
	})

	c.recorder.Add(domain.MetricPayloadsSent, float64(res.Sent), nil)
	c.recorder.Add(domain.MetricPayloadsDropped, float64(res.Dropped), nil)
	c.recorder.Add(domain.MetricPayloadsRequeued, float64(res.Requeued), nil)
	c.recorder.Observe(domain.MetricQueueLength, float64(c.queue.Len()), nil)

	if res.Dropped > 0 {
		c.log.WithField("dropped", res.Dropped).Debug("dropped stale requests data")
	}
	if res.Err != nil {
		c.handleHubError("send requests data", res.Err)
	}
}

func (c *Client) enqueueSnapshot() {
	payload := domain.RequestsPayload{
		InstanceUUID:     c.instanceUUID,
		MessageUUID:      uuid.NewString(),
		Requests:         c.requests.GetAndReset(),
		ValidationErrors: c.validationErrors.GetAndReset(),
	}
	c.queue.Push(domain.TimestampedPayload{EnqueuedAt: c.clock.Now(), Payload: payload})
}

// SetAppInfo guarda o descritor da aplicação e tenta um envio imediato. Se
// falhar, o loop tenta de novo a cada SyncInterval até o hub confirmar.
func (c *Client) SetAppInfo(ctx context.Context, info domain.AppInfo) {
	c.appInfoMu.Lock()
	c.appInfo = &domain.AppInfoPayload{
		InstanceUUID: c.instanceUUID,
		MessageUUID:  uuid.NewString(),
		AppInfo:      info,
	}
	c.appInfoMu.Unlock()

	c.sendAppInfo(ctx)
}

func (c *Client) sendAppInfo(ctx context.Context) {
	if c.halted.Load() {
		return
	}

	// retira o payload antes do envio para que dois chamadores não enviem o mesmo
	c.appInfoMu.Lock()
	payload := c.appInfo
	c.appInfo = nil
	c.appInfoMu.Unlock()
	if payload == nil {
		return
	}

	if err := c.hub.SendAppInfo(ctx, *payload); err != nil {
		c.appInfoMu.Lock()
		if c.appInfo == nil {
			c.appInfo = payload
		}
		c.appInfoMu.Unlock()
		c.handleHubError("send app info", err)
		return
	}
	c.log.Debug("sent app info")
}

// RefreshKeys busca o conjunto completo de chaves e substitui o registro. Em
// caso de falha o registro antigo continua valendo e o erro só é logado.
func (c *Client) RefreshKeys(ctx context.Context) {
	if c.halted.Load() {
		return
	}
	data, err := c.hub.FetchKeys(ctx)
	if err != nil {
		c.handleHubError("fetch keys", err)
		return
	}
	if err := c.loadKeys(data); err != nil {
		c.log.WithError(err).Warn("ignoring invalid keys response")
		return
	}
	c.recorder.Add(domain.MetricKeyRefreshes, 1, nil)
	c.log.WithField("keys", c.keys.Len()).Debug("refreshed api keys")

	if c.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := c.cache.Store(cacheCtx, data); err != nil {
		c.log.WithError(err).Warn("failed to write api keys to cache")
	}
}

func (c *Client) loadKeys(data []byte) error {
	resp, err := domain.ParseKeysResponse(data)
	if err != nil {
		return err
	}
	c.keys.Replace(resp)
	return nil
}

// loadKeysFromCache popula o registro antes do primeiro refresh pela rede.
func (c *Client) loadKeysFromCache() {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	data, ok, err := c.cache.Retrieve(ctx)
	if err != nil {
		c.log.WithError(err).Warn("failed to read api keys from cache")
		return
	}
	if !ok {
		return
	}
	if err := c.loadKeys(data); err != nil {
		c.log.WithError(err).Warn("ignoring invalid cached api keys")
		return
	}
	c.log.WithField("keys", c.keys.Len()).Debug("loaded api keys from cache")
}

func (c *Client) handleHubError(op string, err error) {
	if errors.Is(err, domain.ErrClientNotRecognized) {
		if c.halted.CompareAndSwap(false, true) {
			c.log.WithFields(logrus.Fields{
				"client_id": c.cfg.ClientID,
				"env":       c.cfg.Env,
			}).Error("invalid client id, hub rejected it; telemetry sync stopped")
		}
		return
	}
	c.warnSometimes.Do(func() {
		c.log.WithError(err).WithField("op", op).Warn("hub request failed, will retry on next sync")
	})
}
