// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - HubClient: transporte HTTP para o hub, com gzip e retry com backoff
//   - RedisKeyCache / FileKeyCache / MemoryKeyCache: cache durável de chaves
//   - PrometheusRecorder: métricas internas do agente
//   - ExitHooks: hooks de saída do processo
package infra
