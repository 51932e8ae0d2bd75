package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"telemetry-agent/middleware/telemetry"
	"telemetry-agent/middleware/telemetry/application"
	"telemetry-agent/middleware/telemetry/domain"
	"telemetry-agent/middleware/telemetry/infra"
)

func main() {
	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if lvl, err := log.ParseLevel(cfg.logLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hooks := infra.NewExitHooks()
	hooksDone := hooks.RunOnDone(ctx)

	cache, closeCache, err := newKeyCache(cfg)
	if err != nil {
		log.Fatalf("key cache error: %v", err)
	}
	hooks.Register(closeCache)

	reg := prometheus.NewRegistry()
	recorder, err := infra.NewPrometheusRecorder(reg, "example")
	if err != nil {
		log.Fatalf("metrics error: %v", err)
	}

	opts := []application.Option{
		application.WithRecorder(recorder),
		application.WithShutdownHooks(hooks),
	}
	if cache != nil {
		opts = append(opts, application.WithKeyCache(cache))
	}
	hub := infra.NewHubClient(cfg.agent.ClientID, cfg.agent.Env, infra.WithHubURL(cfg.hubURL))
	client, err := application.NewClient(cfg.agent, hub, opts...)
	if err != nil {
		log.Fatalf("telemetry client error: %v", err)
	}
	client.Start()

	routes := telemetry.NewRoutes(http.NewServeMux())
	registerRoutes(routes, client, cfg.apiKeys)
	if cfg.metricsPath != "" {
		routes.ServeMux.Handle(cfg.metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	// montado antes do servidor subir: o documento OpenAPI é lido pelo próprio mux
	appInfo := routes.AppInfo(cfg.agent.AppVersion, cfg.openAPIPath)
	go client.SetAppInfo(ctx, appInfo)

	h := telemetry.Middleware(telemetry.Options{
		Client:     client,
		ConsumerFn: func(r *http.Request) string { return r.Header.Get("X-Consumer") },
	})(routes)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	// o servidor para antes do flush final do agente (hooks rodam em ordem inversa)
	hooks.Register(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	log.WithFields(log.Fields{
		"addr":      cfg.listenAddr,
		"hub":       hub.BaseURL(),
		"key_cache": cfg.keyCache,
	}).Info("example server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	<-hooksDone
}

func newKeyCache(cfg config) (domain.KeyCache, func(), error) {
	noop := func() {}
	cacheKey := domain.CacheKey(cfg.agent.ClientID, cfg.agent.Env)

	switch cfg.keyCache {
	case "memory":
		return infra.NewMemoryKeyCache(), noop, nil
	case "file":
		return infra.NewFileKeyCache(cfg.keyCacheDir, cacheKey), noop, nil
	case "redis":
		rdb := redis.NewUniversalClient(cfg.redis.AsUniversalOptions())
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		var opts []infra.RedisKeyCacheOption
		if cfg.redisTTL > 0 {
			opts = append(opts, infra.WithCacheTTL(cfg.redisTTL))
		}
		return infra.NewRedisKeyCache(rdb, cacheKey, opts...), func() { _ = rdb.Close() }, nil
	}
	return nil, noop, nil
}

const openAPIDocument = `{
  "openapi": "3.0.3",
  "info": {"title": "example-server", "version": "1.0.0"},
  "paths": {
    "/items": {"post": {"responses": {"201": {"description": "created"}, "422": {"description": "invalid"}}}},
    "/items/{id}": {"get": {"responses": {"200": {"description": "item"}}}},
    "/secure": {"get": {"security": [{"ApiKey": []}], "responses": {"200": {"description": "key id"}}}}
  }
}`

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func registerRoutes(routes *telemetry.Routes, client *application.Client, apiKeys bool) {
	routes.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, item{ID: r.PathValue("id"), Name: "item " + r.PathValue("id")})
	})
	routes.HandleFunc("POST /items", func(w http.ResponseWriter, r *http.Request) {
		var in item
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
			telemetry.AddValidationErrors(r.Context(), domain.ValidationErrorDetail{
				Loc:  []string{"body", "name"},
				Msg:  "field required",
				Type: "value_error.missing",
			})
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "name is required"})
			return
		}
		writeJSON(w, http.StatusCreated, in)
	})
	routes.HandleFunc("GET /openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openAPIDocument))
	})
	if apiKeys {
		secure := telemetry.RequireAPIKey(telemetry.KeyAuthOptions{Keys: client, Scopes: []string{"read"}})
		routes.Handle("GET /secure", secure(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, _ := telemetry.KeyFromContext(r.Context())
			writeJSON(w, http.StatusOK, map[string]int{"key_id": rec.KeyID})
		})))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
