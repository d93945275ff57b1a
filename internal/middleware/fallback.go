package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fallbackEntry associa um limiter local ao momento do último uso
type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// FallbackLimiter aplica um limite local aproximado enquanto o storage
// compartilhado está indisponível. Token bucket por identificador; não há
// janela deslizante nem escalada de violações no modo degradado.
type FallbackLimiter struct {
	mu      sync.Mutex
	entries map[string]*fallbackEntry
	limit   int
	window  time.Duration
	wg      sync.WaitGroup
}

// NewFallbackLimiter cria um limiter local com a taxa padrão informada
func NewFallbackLimiter(limit int, window time.Duration) *FallbackLimiter {
	return &FallbackLimiter{
		entries: make(map[string]*fallbackEntry),
		limit:   limit,
		window:  window,
	}
}

// Allow decide localmente se o identificador pode prosseguir
func (f *FallbackLimiter) Allow(identifier string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, exists := f.entries[identifier]
	if !exists {
		entry = &fallbackEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(f.limit)/f.window.Seconds()), f.limit),
		}
		f.entries[identifier] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// Cleanup descarta limiters ociosos há mais de duas janelas.
// Retorna quantos registros foram removidos.
func (f *FallbackLimiter) Cleanup() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-2 * f.window)
	for identifier, entry := range f.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(f.entries, identifier)
			removed++
		}
	}

	return removed
}

// StartJanitor dispara a limpeza periódica de limiters ociosos.
// O goroutine encerra quando o contexto é cancelado.
func (f *FallbackLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop aguarda o janitor terminar. Deve ser chamado após cancelar o
// contexto passado a StartJanitor.
func (f *FallbackLimiter) Stop() {
	f.wg.Wait()
}
