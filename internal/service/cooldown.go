package service

import (
	"context"
	"sync"
	"time"
)

// cooldownEntry guarda o momento do último estouro de limite de um identificador
type cooldownEntry struct {
	limitedAt time.Time
	window    time.Duration
}

// CooldownTracker acompanha identificadores recém-limitados para detectar
// quando a janela deles volta a ter capacidade. Observe devolve true uma
// única vez por episódio de limite.
type CooldownTracker struct {
	mu      sync.Mutex
	entries map[string]cooldownEntry
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewCooldownTracker cria um tracker vazio
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		entries: make(map[string]cooldownEntry),
		now:     time.Now,
	}
}

// MarkLimited registra que o identificador atingiu o limite agora.
// Chamadas repetidas reiniciam o episódio.
func (t *CooldownTracker) MarkLimited(identifier string, window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[identifier] = cooldownEntry{
		limitedAt: t.now(),
		window:    window,
	}
}

// Observe informa se o identificador acabou de sair de um período limitado.
// O episódio só é considerado encerrado depois de uma janela inteira sem
// novos estouros; o registro é consumido na primeira observação.
func (t *CooldownTracker) Observe(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[identifier]
	if !exists {
		return false
	}

	if t.now().Sub(entry.limitedAt) < entry.window {
		return false
	}

	delete(t.entries, identifier)
	return true
}

// Sweep remove episódios que ficaram sem observação por duas janelas.
// Retorna quantos registros foram descartados.
func (t *CooldownTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := t.now()
	for identifier, entry := range t.entries {
		if now.Sub(entry.limitedAt) >= 2*entry.window {
			delete(t.entries, identifier)
			removed++
		}
	}

	return removed
}

// StartJanitor dispara a limpeza periódica de episódios abandonados.
// O goroutine encerra quando o contexto é cancelado.
func (t *CooldownTracker) StartJanitor(ctx context.Context, every time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop aguarda o janitor terminar. Deve ser chamado após cancelar o
// contexto passado a StartJanitor.
func (t *CooldownTracker) Stop() {
	t.wg.Wait()
}
