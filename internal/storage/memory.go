package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storage-gateway/internal/domain"
)

// memorySet emula um sorted set do Redis com TTL de chave
type memorySet struct {
	events    []int64 // timestamps em milissegundos, em ordem de chegada
	expiresAt time.Time
}

// trim descarta eventos com timestamp menor ou igual ao corte
func (s *memorySet) trim(cutoffMs int64) {
	idx := 0
	for idx < len(s.events) && s.events[idx] <= cutoffMs {
		idx++
	}
	if idx > 0 {
		s.events = s.events[idx:]
	}
}

// MemoryStorage implementa a interface domain.AdmissionStorage usando memória
type MemoryStorage struct {
	windows    map[string]*memorySet
	violations map[string]*memorySet
	bans       map[string]*domain.BanRecord
	mutex      sync.RWMutex
	logger     domain.Logger

	// now é substituível nos testes para controlar a janela
	now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryStorage cria uma nova instância do MemoryStorage
func NewMemoryStorage(logger domain.Logger) *MemoryStorage {
	storage := &MemoryStorage{
		windows:    make(map[string]*memorySet),
		violations: make(map[string]*memorySet),
		bans:       make(map[string]*domain.BanRecord),
		logger:     logger,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	storage.wg.Add(1)
	go storage.cleanup()

	if logger != nil {
		logger.Info("Memory storage initialized", nil)
	}

	return storage
}

// liveSet retorna o conjunto existente da chave, descartando os expirados
func liveSet(table map[string]*memorySet, identifier string, now time.Time) *memorySet {
	set, exists := table[identifier]
	if !exists {
		return nil
	}
	if now.After(set.expiresAt) {
		delete(table, identifier)
		return nil
	}
	return set
}

// CheckAndConsume aplica a janela deslizante e consome uma vaga se houver
func (m *MemoryStorage) CheckAndConsume(ctx context.Context, identifier string, limit int, window time.Duration) (*domain.LimitResult, error) {
	start := time.Now()
	key := BuildKey(WindowKind, identifier)

	if limit <= 0 {
		return nil, fmt.Errorf("%w: invalid limit: %d", domain.ErrProcedureFault, limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: invalid window: %s", domain.ErrProcedureFault, window)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()

	set := liveSet(m.windows, identifier, now)
	if set == nil {
		set = &memorySet{}
	}

	// Remove entradas que já saíram da janela deslizante
	set.trim(now.UnixMilli() - window.Milliseconds())

	count := len(set.events)
	if count >= limit {
		m.logStorageOperation("check_and_consume", key, true, time.Since(start).Seconds()*1000, nil)
		return &domain.LimitResult{
			Exceeded:       true,
			Current:        count,
			Limit:          limit,
			PercentageUsed: domain.UsagePercent(count, limit),
		}, nil
	}

	// Consome uma vaga e renova o TTL emulado
	set.events = append(set.events, now.UnixMilli())
	set.expiresAt = now.Add(2 * window)
	m.windows[identifier] = set

	m.logStorageOperation("check_and_consume", key, true, time.Since(start).Seconds()*1000, nil)
	return &domain.LimitResult{
		Exceeded:       false,
		Current:        count + 1,
		Limit:          limit,
		PercentageUsed: domain.UsagePercent(count+1, limit),
	}, nil
}

// RecordViolation registra uma violação e informa se o limiar de ban foi atingido
func (m *MemoryStorage) RecordViolation(ctx context.Context, identifier string, threshold int, window time.Duration) (*domain.ViolationResult, error) {
	start := time.Now()
	key := BuildKey(ViolationsKind, identifier)

	if threshold <= 0 {
		return nil, fmt.Errorf("%w: invalid threshold: %d", domain.ErrProcedureFault, threshold)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: invalid window: %s", domain.ErrProcedureFault, window)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()

	set := liveSet(m.violations, identifier, now)
	if set == nil {
		set = &memorySet{}
	}

	// Acrescenta a violação incondicionalmente e renova o TTL emulado
	set.events = append(set.events, now.UnixMilli())
	set.expiresAt = now.Add(2 * window)
	m.violations[identifier] = set

	// Conta apenas o que segue dentro da janela
	set.trim(now.UnixMilli() - window.Milliseconds())
	count := len(set.events)

	m.logStorageOperation("record_violation", key, true, time.Since(start).Seconds()*1000, nil)
	return &domain.ViolationResult{
		ShouldBan: count >= threshold,
		Count:     count,
	}, nil
}

// CheckBanned lê o registro de ban e a contagem de violações em uma única seção crítica
func (m *MemoryStorage) CheckBanned(ctx context.Context, identifier string) (*domain.BanStatus, error) {
	start := time.Now()
	key := BuildKey(BannedKind, identifier)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	status := &domain.BanStatus{}

	if record, exists := m.bans[identifier]; exists {
		if record.LiveAt(now) {
			recordCopy := *record
			status.Banned = true
			status.Record = &recordCopy
		} else {
			// TTL emulado venceu, remove na leitura
			delete(m.bans, identifier)
		}
	}

	// Contagem bruta do conjunto, sem aparar a janela, igual à leitura atômica no Redis
	if set := liveSet(m.violations, identifier, now); set != nil {
		status.Violations = len(set.events)
	}

	m.logStorageOperation("check_banned", key, true, time.Since(start).Seconds()*1000, nil)
	return status, nil
}

// Impose grava um ban com vencimento na duração dada, sobrescrevendo ban anterior
func (m *MemoryStorage) Impose(ctx context.Context, identifier, reason string, duration time.Duration) error {
	start := time.Now()
	key := BuildKey(BannedKind, identifier)

	if duration <= 0 {
		return fmt.Errorf("%w: invalid duration: %s", domain.ErrProcedureFault, duration)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()

	// Congela a contagem de violações no registro e zera o histórico
	violationCount := 0
	if set := liveSet(m.violations, identifier, now); set != nil {
		violationCount = len(set.events)
	}

	m.bans[identifier] = &domain.BanRecord{
		Reason:         reason,
		IssuedAt:       now,
		ExpiresAt:      now.Add(duration),
		ViolationCount: violationCount,
	}
	delete(m.violations, identifier)

	m.logStorageOperation("impose_ban", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Status retorna a visão administrativa de um identificador sem consumir vaga
func (m *MemoryStorage) Status(ctx context.Context, identifier string, limit int, window time.Duration) (*domain.IdentifierStatus, error) {
	start := time.Now()
	key := BuildKey(WindowKind, identifier)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()

	status := &domain.IdentifierStatus{
		Identifier: identifier,
		Limit:      limit,
		CheckedAt:  now,
	}

	if set := liveSet(m.windows, identifier, now); set != nil {
		cutoff := now.UnixMilli() - window.Milliseconds()
		for _, ts := range set.events {
			if ts > cutoff {
				status.WindowCount++
			}
		}
	}

	if set := liveSet(m.violations, identifier, now); set != nil {
		status.Violations = len(set.events)
	}

	if record, exists := m.bans[identifier]; exists && record.LiveAt(now) {
		recordCopy := *record
		status.Ban = &recordCopy
	}

	status.State = domain.DeriveState(status.Ban != nil, status.WindowCount >= limit)

	m.logStorageOperation("status", key, true, time.Since(start).Seconds()*1000, nil)
	return status, nil
}

// Reset limpa janela, violações e ban de um identificador
func (m *MemoryStorage) Reset(ctx context.Context, identifier string) error {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.windows, identifier)
	delete(m.violations, identifier)
	delete(m.bans, identifier)

	m.logStorageOperation("reset", BuildKey(WindowKind, identifier), true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	start := time.Now()

	m.mutex.RLock()
	windowSize := len(m.windows)
	violationSize := len(m.violations)
	banSize := len(m.bans)
	m.mutex.RUnlock()

	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"window_entries":    windowSize,
			"violation_entries": violationSize,
			"ban_entries":       banSize,
		})
	}

	m.logStorageOperation("health", "check", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close encerra a goroutine de limpeza e descarta os dados
func (m *MemoryStorage) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.windows = make(map[string]*memorySet)
	m.violations = make(map[string]*memorySet)
	m.bans = make(map[string]*domain.BanRecord)

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// cleanup remove entradas expiradas periodicamente
func (m *MemoryStorage) cleanup() {
	defer m.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredEntries()
		case <-m.stop:
			return
		}
	}
}

// cleanupExpiredEntries remove conjuntos e bans vencidos
func (m *MemoryStorage) cleanupExpiredEntries() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	removedSets := 0
	removedBans := 0

	for identifier, set := range m.windows {
		if now.After(set.expiresAt) {
			delete(m.windows, identifier)
			removedSets++
		}
	}

	for identifier, set := range m.violations {
		if now.After(set.expiresAt) {
			delete(m.violations, identifier)
			removedSets++
		}
	}

	for identifier, record := range m.bans {
		if !record.LiveAt(now) {
			delete(m.bans, identifier)
			removedBans++
		}
	}

	if (removedSets > 0 || removedBans > 0) && m.logger != nil {
		m.logger.Debug("Memory storage cleanup completed", map[string]interface{}{
			"removed_sets": removedSets,
			"removed_bans": removedBans,
		})
	}
}

// GetStats retorna estatísticas do storage em memória
func (m *MemoryStorage) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"window_entries":    len(m.windows),
		"violation_entries": len(m.violations),
		"ban_entries":       len(m.bans),
		"type":              "memory",
	}
}

// logStorageOperation registra operações de storage
func (m *MemoryStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if m.logger == nil {
		return
	}

	if success {
		m.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		m.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
