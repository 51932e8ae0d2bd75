// Package application contém o motor do agente de telemetria.
//
// Ele depende apenas do pacote domain e não conhece net/http:
//
//   - RequestLogger / ValidationErrorLogger: agregação em memória, reset na leitura
//   - KeyRegistry: chaves de API trocadas atomicamente a cada refresh
//   - DeliveryQueue: payloads aguardando envio, com descarte por idade
//   - Client: dono de tudo acima e do loop de sincronização em background
package application
