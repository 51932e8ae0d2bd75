package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	listenAddr string
	clientIDs  []string
	apiKeys    []stubKey
	salt       string
	rps        float64
	burst      int
}

func readConfig(args []string) (config, error) {
	fs := pflag.NewFlagSet("hub-stub", pflag.ContinueOnError)
	fs.String("listen-addr", ":8090", "address the stub hub listens on")
	fs.StringSlice("client-ids", nil, "accepted client ids (empty accepts any)")
	fs.StringSlice("api-keys", nil, "keys served by GET /keys, as secret=id[:scope|scope]")
	fs.String("salt", "", "salt of the served keys (random when empty)")
	fs.Float64("max-rps", 0, "per-client request rate before answering 429 (0 disables)")
	fs.Int("burst", 5, "burst of the per-client rate limit")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("HUB_STUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return config{}, errors.Wrap(err, "binding flags")
	}

	cfg := config{
		listenAddr: v.GetString("listen-addr"),
		clientIDs:  v.GetStringSlice("client-ids"),
		salt:       v.GetString("salt"),
		rps:        v.GetFloat64("max-rps"),
		burst:      v.GetInt("burst"),
	}
	for _, s := range v.GetStringSlice("api-keys") {
		k, err := parseStubKey(s)
		if err != nil {
			return config{}, err
		}
		cfg.apiKeys = append(cfg.apiKeys, k)
	}
	if cfg.salt == "" {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return config{}, errors.Wrap(err, "generating salt")
		}
		cfg.salt = hex.EncodeToString(b)
	}
	if cfg.rps < 0 {
		return config{}, errors.New("HUB_STUB_MAX_RPS must be >= 0")
	}
	return cfg, nil
}

func main() {
	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	limiter := newClientLimiter(cfg.rps, cfg.burst)
	limiter.startJanitor(ctx, 2*time.Minute)

	logger := log.WithField("component", "hub-stub")
	hub, err := newHubStub(cfg.clientIDs, cfg.apiKeys, cfg.salt, limiter, logger)
	if err != nil {
		log.Fatalf("hub error: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           hub.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(log.Fields{
		"addr":    cfg.listenAddr,
		"clients": len(cfg.clientIDs),
		"keys":    len(cfg.apiKeys),
		"max_rps": cfg.rps,
	}).Info("hub stub listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
