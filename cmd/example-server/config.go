package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"telemetry-agent/middleware/telemetry/application"
	"telemetry-agent/middleware/telemetry/infra"
)

const envPrefix = "TELEMETRY"

type config struct {
	listenAddr  string
	logLevel    string
	metricsPath string
	openAPIPath string

	agent   application.Config
	hubURL  string
	apiKeys bool

	// cache de chaves: "", "memory", "file" ou "redis"
	keyCache    string
	keyCacheDir string
	redis       infra.RedisConfig
	redisTTL    time.Duration
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("example-server", pflag.ContinueOnError)
	fs.String("listen-addr", ":8081", "address the example server listens on")
	fs.String("log-level", "info", "logrus level (debug, info, warn, error)")
	fs.String("metrics-path", "/metrics", "path of the prometheus endpoint; empty disables it")
	fs.String("openapi-path", "/openapi.json", "path of the OpenAPI document sent as app info; empty sends the route list")

	fs.String("client-id", "", "client id (UUID) registered on the hub")
	fs.String("env", application.DefaultEnv, "environment name reported to the hub")
	fs.String("hub-url", infra.DefaultHubURL, "base URL of the hub")
	fs.Duration("sync-interval", application.DefaultSyncInterval, "interval between metric deliveries")
	fs.Duration("key-sync-interval", 0, "interval between api key refreshes (0 = sync-interval)")
	fs.Bool("sync-api-keys", true, "fetch api keys from the hub and protect /secure with them")
	fs.String("app-version", "", "application version reported in the app info")

	fs.String("key-cache", "memory", "durable api key cache: none, memory, file or redis")
	fs.String("key-cache-dir", ".telemetry", "directory of the file key cache")
	fs.StringSlice("redis-addrs", []string{"localhost:6379"}, "redis addresses for the redis key cache")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database")
	fs.Duration("redis-ttl", 0, "ttl of the cached key snapshot (0 = no expiry)")
	return fs
}

// readConfig junta flags, variáveis TELEMETRY_* e defaults, nessa ordem de
// precedência.
func readConfig(args []string) (config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return config{}, errors.Wrap(err, "binding flags")
	}

	cfg := config{
		listenAddr:  v.GetString("listen-addr"),
		logLevel:    v.GetString("log-level"),
		metricsPath: v.GetString("metrics-path"),
		openAPIPath: v.GetString("openapi-path"),
		hubURL:      v.GetString("hub-url"),
		apiKeys:     v.GetBool("sync-api-keys"),
		keyCache:    strings.ToLower(v.GetString("key-cache")),
		keyCacheDir: v.GetString("key-cache-dir"),
		redis: infra.RedisConfig{
			Addrs:    v.GetStringSlice("redis-addrs"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
		},
		redisTTL: v.GetDuration("redis-ttl"),
		agent: application.Config{
			ClientID:        v.GetString("client-id"),
			Env:             v.GetString("env"),
			SyncInterval:    v.GetDuration("sync-interval"),
			KeySyncInterval: v.GetDuration("key-sync-interval"),
			SyncAPIKeys:     v.GetBool("sync-api-keys"),
			AppVersion:      v.GetString("app-version"),
		},
	}

	if cfg.agent.ClientID == "" {
		return config{}, errors.New("TELEMETRY_CLIENT_ID (or --client-id) is required")
	}
	if err := cfg.agent.Validate(); err != nil {
		return config{}, err
	}
	switch cfg.keyCache {
	case "", "none", "memory", "file":
	case "redis":
		if len(cfg.redis.Addrs) == 0 {
			return config{}, errors.New("TELEMETRY_REDIS_ADDRS is required when key-cache=redis")
		}
	default:
		return config{}, errors.Errorf("unknown key cache %q", cfg.keyCache)
	}
	if cfg.keyCache == "file" && strings.TrimSpace(cfg.keyCacheDir) == "" {
		return config{}, errors.New("TELEMETRY_KEY_CACHE_DIR is required when key-cache=file")
	}
	return cfg, nil
}
