package telemetry

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"sort"
	"strings"
	"sync"

	"telemetry-agent/middleware/telemetry/domain"
)

// Version é a versão do agente reportada no app info.
const Version = "0.4.0"

const (
	clientName    = "telemetry-agent-go"
	frameworkName = "net/http"
)

// Routes envolve um *http.ServeMux e anota os padrões registrados, para montar
// a lista de paths do app info.
type Routes struct {
	*http.ServeMux

	mu       sync.Mutex
	patterns []string
}

func NewRoutes(mux *http.ServeMux) *Routes {
	if mux == nil {
		mux = http.NewServeMux()
	}
	return &Routes{ServeMux: mux}
}

func (rt *Routes) Handle(pattern string, handler http.Handler) {
	rt.ServeMux.Handle(pattern, handler)
	rt.note(pattern)
}

func (rt *Routes) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	rt.ServeMux.HandleFunc(pattern, handler)
	rt.note(pattern)
}

func (rt *Routes) note(pattern string) {
	rt.mu.Lock()
	rt.patterns = append(rt.patterns, pattern)
	rt.mu.Unlock()
}

// Paths lista (método, template) de cada rota registrada. HEAD e OPTIONS
// ficam de fora; padrões sem método aparecem com método vazio.
func (rt *Routes) Paths() []domain.PathInfo {
	rt.mu.Lock()
	patterns := append([]string(nil), rt.patterns...)
	rt.mu.Unlock()

	paths := make([]domain.PathInfo, 0, len(patterns))
	for _, p := range patterns {
		method := ""
		if i := strings.IndexAny(p, " \t"); i >= 0 && !strings.Contains(p[:i], "/") {
			method = strings.ToUpper(p[:i])
		}
		if method == http.MethodHead || method == http.MethodOptions {
			continue
		}
		paths = append(paths, domain.PathInfo{Method: method, Path: patternPath(p)})
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Path != paths[j].Path {
			return paths[i].Path < paths[j].Path
		}
		return paths[i].Method < paths[j].Method
	})
	return paths
}

// OpenAPI busca o documento servido pela própria aplicação em path, passando
// pelo mux sem rede. Só uma resposta 200 conta.
func (rt *Routes) OpenAPI(path string) (string, bool) {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return "", false
	}
	rec := httptest.NewRecorder()
	rt.ServeMux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return "", false
	}
	return rec.Body.String(), true
}

// AppInfo monta o descritor a partir das rotas registradas. Se openAPIPath
// servir um documento, ele vai no lugar da lista de paths.
func (rt *Routes) AppInfo(appVersion, openAPIPath string) domain.AppInfo {
	if openAPIPath != "" {
		if doc, ok := rt.OpenAPI(openAPIPath); ok {
			return NewAppInfo(nil, appVersion, WithOpenAPI(doc))
		}
	}
	return NewAppInfo(rt.Paths(), appVersion)
}

type AppInfoOption func(*domain.AppInfo)

// WithOpenAPI anexa o documento OpenAPI; no payload ele substitui os paths.
func WithOpenAPI(doc string) AppInfoOption {
	return func(info *domain.AppInfo) { info.OpenAPI = doc }
}

// NewAppInfo monta o descritor da aplicação. appVersion vazio é omitido.
func NewAppInfo(paths []domain.PathInfo, appVersion string, opts ...AppInfoOption) domain.AppInfo {
	if paths == nil {
		paths = []domain.PathInfo{}
	}
	versions := map[string]string{
		"go":    strings.TrimPrefix(runtime.Version(), "go"),
		"agent": Version,
	}
	if appVersion != "" {
		versions["app"] = appVersion
	}
	info := domain.AppInfo{
		Paths:         paths,
		Versions:      versions,
		ClientVersion: Version,
		Client:        clientName,
		Framework:     frameworkName,
	}
	for _, opt := range opts {
		opt(&info)
	}
	return info
}
