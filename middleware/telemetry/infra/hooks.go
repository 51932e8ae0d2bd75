package infra

import (
	"context"
	"sync"
)

// ExitHooks é a implementação de domain.ShutdownHooks para processos Go: o
// host chama Run (ou usa RunOnDone com o contexto de sinais) antes de sair.
type ExitHooks struct {
	mu  sync.Mutex
	fns []func()
	ran bool
}

func NewExitHooks() *ExitHooks {
	return &ExitHooks{}
}

// Register adiciona fn. Se os hooks já rodaram, fn roda na hora.
func (h *ExitHooks) Register(fn func()) {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Run executa os hooks em ordem inversa de registro, uma única vez.
func (h *ExitHooks) Run() {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return
	}
	h.ran = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// RunOnDone roda os hooks quando ctx terminar. O canal devolvido fecha
// depois que todos rodaram.
func (h *ExitHooks) RunOnDone(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		h.Run()
	}()
	return done
}
