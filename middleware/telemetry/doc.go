// Package telemetry liga o agente a servidores net/http.
//
// Uso típico:
//
//	client, _ := application.NewClient(cfg, infra.NewHubClient(cfg.ClientID, cfg.Env))
//	client.Start()
//	defer client.Stop()
//
//	routes := telemetry.NewRoutes(http.NewServeMux())
//	routes.HandleFunc("GET /items/{id}", getItem)
//	h := telemetry.Middleware(telemetry.Options{Client: client})(routes)
//
// O middleware registra método, template da rota, status e latência de cada
// requisição. Requisições que nenhuma rota atendeu são ignoradas por padrão.
package telemetry
