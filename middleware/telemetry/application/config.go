package application

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"telemetry-agent/middleware/telemetry/domain"
)

const (
	DefaultSyncInterval = 60 * time.Second
	DefaultTickInterval = 1 * time.Second
	DefaultEnv          = "default"
)

var envPattern = regexp.MustCompile(`^[\w-]{1,32}$`)

// Config é a superfície de configuração do cliente.
type Config struct {
	// ClientID identifica a aplicação no hub (UUID).
	ClientID string
	// Env separa ambientes (ex: prod, staging) do mesmo client id.
	Env string

	SyncInterval time.Duration
	// KeySyncInterval é o intervalo do refresh de chaves. Zero usa SyncInterval.
	KeySyncInterval time.Duration
	SyncAPIKeys     bool

	AppVersion string

	// TickInterval é a granularidade do loop. Os intervalos acima são
	// conferidos a cada tick.
	TickInterval time.Duration
	// MaxQueueTime é o teto de idade de um payload na fila.
	MaxQueueTime time.Duration
}

func (c *Config) setDefaults() {
	if c.Env == "" {
		c.Env = DefaultEnv
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.KeySyncInterval <= 0 {
		c.KeySyncInterval = c.SyncInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxQueueTime <= 0 {
		c.MaxQueueTime = MaxQueueTime
	}
}

// Validate confere a configuração já com defaults aplicados.
func (c Config) Validate() error {
	if _, err := uuid.Parse(c.ClientID); err != nil {
		return errors.Wrapf(domain.ErrInvalidConfig, "client id %q is not a valid UUID", c.ClientID)
	}
	if !envPattern.MatchString(c.Env) {
		return errors.Wrapf(domain.ErrInvalidConfig, "env %q must match %s", c.Env, envPattern)
	}
	return nil
}
