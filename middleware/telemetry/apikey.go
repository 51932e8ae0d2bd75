package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"telemetry-agent/middleware/telemetry/domain"
)

// KeyLookup resolve uma API key apresentada. *application.Client satisfaz.
type KeyLookup interface {
	LookupKey(apiKey string) (domain.KeyRecord, bool)
}

type KeyAuthOptions struct {
	Keys KeyLookup
	// Scopes exigidos da chave. Vazio aceita qualquer chave válida.
	Scopes []string
	// CustomHeader troca "Authorization: ApiKey <key>" por um header próprio
	// contendo só a chave (ex: X-Api-Key).
	CustomHeader string
}

type keyRecordKey struct{}

// KeyFromContext devolve a chave autenticada por RequireAPIKey.
func KeyFromContext(ctx context.Context) (domain.KeyRecord, bool) {
	rec, ok := ctx.Value(keyRecordKey{}).(domain.KeyRecord)
	return rec, ok
}

// RequireAPIKey protege um handler com as chaves sincronizadas do hub.
//
// Deve envolver o handler da rota (dentro do mux), não o mux inteiro: assim o
// Middleware continua enxergando o padrão casado.
func RequireAPIKey(opts KeyAuthOptions) func(next http.Handler) http.Handler {
	if opts.Keys == nil {
		panic("telemetry: KeyAuthOptions.Keys is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, status := presentedKey(r, opts.CustomHeader)
			if status != 0 {
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", "ApiKey")
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			rec, ok := opts.Keys.LookupKey(apiKey)
			if !ok || !rec.HasScopes(opts.Scopes...) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			ctx := r.Context()
			if ConsumerFromContext(ctx) == "" {
				SetConsumer(ctx, "key:"+strconv.Itoa(rec.KeyID))
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, keyRecordKey{}, rec)))
		})
	}
}

// presentedKey extrai a chave. status != 0 indica a resposta de erro.
func presentedKey(r *http.Request, customHeader string) (string, int) {
	if customHeader != "" {
		v := strings.TrimSpace(r.Header.Get(customHeader))
		if v == "" {
			return "", http.StatusForbidden
		}
		return v, 0
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, param, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "ApiKey") {
		return "", http.StatusUnauthorized
	}
	param = strings.TrimSpace(param)
	if param == "" {
		return "", http.StatusUnauthorized
	}
	return param, 0
}
