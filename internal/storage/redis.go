package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storage-gateway/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisStorage implementa a interface domain.AdmissionStorage usando Redis
type RedisStorage struct {
	client   redis.Cmdable
	executor *Executor
	logger   domain.Logger
}

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, logger domain.Logger) (*RedisStorage, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", map[string]interface{}{
		"host": host,
		"port": port,
		"db":   db,
	})

	return &RedisStorage{
		client:   rdb,
		executor: NewExecutor(rdb),
		logger:   logger,
	}, nil
}

// CheckAndConsume aplica a janela deslizante e consome uma vaga se houver
func (r *RedisStorage) CheckAndConsume(ctx context.Context, identifier string, limit int, window time.Duration) (*domain.LimitResult, error) {
	start := time.Now()
	key := BuildKey(WindowKind, identifier)

	tuple, err := r.executor.Run(ctx, procCheckAndConsume, []string{key},
		limit, window.Milliseconds(), time.Now().UnixMilli(), uuid.NewString())
	if err != nil {
		r.logStorageOperation("check_and_consume", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	exceeded, err := tupleInt(procCheckAndConsume.Name, tuple, 0)
	if err != nil {
		return nil, err
	}
	current, err := tupleInt(procCheckAndConsume.Name, tuple, 1)
	if err != nil {
		return nil, err
	}

	r.logStorageOperation("check_and_consume", key, true, time.Since(start).Seconds()*1000, nil)

	return &domain.LimitResult{
		Exceeded:       exceeded == 1,
		Current:        int(current),
		Limit:          limit,
		PercentageUsed: domain.UsagePercent(int(current), limit),
	}, nil
}

// RecordViolation registra uma violação e informa se o limiar de ban foi atingido
func (r *RedisStorage) RecordViolation(ctx context.Context, identifier string, threshold int, window time.Duration) (*domain.ViolationResult, error) {
	start := time.Now()
	key := BuildKey(ViolationsKind, identifier)

	tuple, err := r.executor.Run(ctx, procRecordViolation, []string{key},
		threshold, window.Milliseconds(), time.Now().UnixMilli(), uuid.NewString())
	if err != nil {
		r.logStorageOperation("record_violation", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	shouldBan, err := tupleInt(procRecordViolation.Name, tuple, 0)
	if err != nil {
		return nil, err
	}
	count, err := tupleInt(procRecordViolation.Name, tuple, 1)
	if err != nil {
		return nil, err
	}

	r.logStorageOperation("record_violation", key, true, time.Since(start).Seconds()*1000, nil)

	return &domain.ViolationResult{
		ShouldBan: shouldBan == 1,
		Count:     int(count),
	}, nil
}

// CheckBanned lê o registro de ban e a contagem de violações em uma única viagem
func (r *RedisStorage) CheckBanned(ctx context.Context, identifier string) (*domain.BanStatus, error) {
	start := time.Now()
	banKey := BuildKey(BannedKind, identifier)
	violationsKey := BuildKey(ViolationsKind, identifier)

	tuple, err := r.executor.Run(ctx, procCheckBanned, []string{banKey, violationsKey})
	if err != nil {
		r.logStorageOperation("check_banned", banKey, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	banned, err := tupleInt(procCheckBanned.Name, tuple, 0)
	if err != nil {
		return nil, err
	}
	rawRecord, err := tupleString(procCheckBanned.Name, tuple, 1)
	if err != nil {
		return nil, err
	}
	violations, err := tupleInt(procCheckBanned.Name, tuple, 2)
	if err != nil {
		return nil, err
	}

	status := &domain.BanStatus{
		Banned:     banned == 1,
		Violations: int(violations),
	}

	if status.Banned {
		var record domain.BanRecord
		if err := json.Unmarshal([]byte(rawRecord), &record); err != nil {
			r.logStorageOperation("check_banned", banKey, false, time.Since(start).Seconds()*1000, err)
			return nil, fmt.Errorf("%w: ban record for %s: %v", domain.ErrMalformedRecord, identifier, err)
		}
		status.Record = &record
	}

	r.logStorageOperation("check_banned", banKey, true, time.Since(start).Seconds()*1000, nil)
	return status, nil
}

// Impose grava um ban com TTL igual à duração, sobrescrevendo ban anterior
func (r *RedisStorage) Impose(ctx context.Context, identifier, reason string, duration time.Duration) error {
	start := time.Now()
	banKey := BuildKey(BannedKind, identifier)
	violationsKey := BuildKey(ViolationsKind, identifier)

	now := time.Now()
	record := domain.BanRecord{
		Reason:    reason,
		IssuedAt:  now,
		ExpiresAt: now.Add(duration),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ban record for %s: %w", identifier, err)
	}

	if _, err := r.executor.Run(ctx, procImposeBan, []string{banKey, violationsKey},
		payload, duration.Milliseconds()); err != nil {
		r.logStorageOperation("impose_ban", banKey, false, time.Since(start).Seconds()*1000, err)
		return err
	}

	r.logStorageOperation("impose_ban", banKey, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Status retorna a visão administrativa de um identificador sem consumir vaga
func (r *RedisStorage) Status(ctx context.Context, identifier string, limit int, window time.Duration) (*domain.IdentifierStatus, error) {
	start := time.Now()
	windowKey := BuildKey(WindowKind, identifier)
	violationsKey := BuildKey(ViolationsKind, identifier)
	banKey := BuildKey(BannedKind, identifier)

	now := time.Now()
	windowStart := now.UnixMilli() - window.Milliseconds()

	pipe := r.client.TxPipeline()
	windowCountCmd := pipe.ZCount(ctx, windowKey, fmt.Sprintf("(%d", windowStart), "+inf")
	violationsCmd := pipe.ZCard(ctx, violationsKey)
	banCmd := pipe.Get(ctx, banKey)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		r.logStorageOperation("status", windowKey, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("%w: status for %s: %v", domain.ErrStoreUnavailable, identifier, err)
	}

	status := &domain.IdentifierStatus{
		Identifier:  identifier,
		WindowCount: int(windowCountCmd.Val()),
		Limit:       limit,
		Violations:  int(violationsCmd.Val()),
		CheckedAt:   now,
	}

	rawRecord, err := banCmd.Result()
	if err != nil && err != redis.Nil {
		r.logStorageOperation("status", banKey, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("%w: status for %s: %v", domain.ErrStoreUnavailable, identifier, err)
	}
	if err == nil {
		var record domain.BanRecord
		if err := json.Unmarshal([]byte(rawRecord), &record); err != nil {
			r.logStorageOperation("status", banKey, false, time.Since(start).Seconds()*1000, err)
			return nil, fmt.Errorf("%w: ban record for %s: %v", domain.ErrMalformedRecord, identifier, err)
		}
		status.Ban = &record
	}

	status.State = domain.DeriveState(status.Ban != nil, status.WindowCount >= limit)

	r.logStorageOperation("status", windowKey, true, time.Since(start).Seconds()*1000, nil)
	return status, nil
}

// Reset limpa janela, violações e ban de um identificador
func (r *RedisStorage) Reset(ctx context.Context, identifier string) error {
	start := time.Now()
	keys := []string{
		BuildKey(WindowKind, identifier),
		BuildKey(ViolationsKind, identifier),
		BuildKey(BannedKind, identifier),
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logStorageOperation("reset", keys[0], false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("%w: reset for %s: %v", domain.ErrStoreUnavailable, identifier, err)
	}

	r.logStorageOperation("reset", keys[0], true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("health", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	r.logStorageOperation("health", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			r.logger.Error("Failed to close Redis connection", err, nil)
			return err
		}
		r.logger.Info("Redis connection closed", nil)
	}
	return nil
}

// logStorageOperation registra operações de storage
func (r *RedisStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger != nil {
		if success {
			r.logger.Debug("Storage operation completed", map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		} else {
			r.logger.Error("Storage operation failed", err, map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		}
	}
}

// RecordKind identifica as famílias de chaves mantidas pelo storage
type RecordKind string

const (
	WindowKind     RecordKind = "window"
	ViolationsKind RecordKind = "violations"
	BannedKind     RecordKind = "banned"
)

// BuildKey constrói chaves padronizadas para o storage
func BuildKey(kind RecordKind, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", kind, identifier)
}
