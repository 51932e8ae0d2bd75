// Package domain define tipos e contratos do agente de telemetria.
//
// Este pacote não depende de net/http nem de implementações concretas de
// transporte ou cache. Agregadores, registro de chaves e fila de entrega
// (pacote application) trabalham só com os tipos daqui; o transporte HTTP
// para o hub e os caches ficam no pacote infra.
package domain
