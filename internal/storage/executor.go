package storage

import (
	"context"
	"errors"
	"fmt"

	"storage-gateway/internal/domain"

	"github.com/go-redis/redis/v8"
)

// Executor roda procedures atômicas no Redis e normaliza as respostas
type Executor struct {
	client redis.Scripter
}

// NewExecutor cria um executor sobre um cliente Redis
func NewExecutor(client redis.Scripter) *Executor {
	return &Executor{client: client}
}

// Run executa a procedure e valida o formato da tupla de resposta.
// Script.Run tenta EVALSHA primeiro e recarrega o script em caso de NOSCRIPT.
func (e *Executor) Run(ctx context.Context, proc *Procedure, keys []string, args ...interface{}) ([]interface{}, error) {
	result, err := proc.script.Run(ctx, e.client, keys, args...).Result()
	if err != nil {
		return nil, classifyProcedureError(proc.Name, err)
	}

	tuple, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: procedure %s returned %T, expected array reply", domain.ErrProcedureFault, proc.Name, result)
	}
	if len(tuple) != proc.Arity {
		return nil, fmt.Errorf("%w: procedure %s returned %d elements, expected %d", domain.ErrProcedureFault, proc.Name, len(tuple), proc.Arity)
	}

	return tuple, nil
}

// classifyProcedureError separa falha de script de indisponibilidade do store.
// Erros reportados pelo servidor Redis indicam script ou argumentos quebrados,
// o resto é transporte.
func classifyProcedureError(name string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: procedure %s returned nil reply", domain.ErrProcedureFault, name)
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("%w: procedure %s: %v", domain.ErrProcedureFault, name, err)
	}

	return fmt.Errorf("%w: procedure %s: %v", domain.ErrStoreUnavailable, name, err)
}

// tupleInt lê um elemento inteiro de uma tupla de resposta
func tupleInt(name string, tuple []interface{}, idx int) (int64, error) {
	v, ok := tuple[idx].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: procedure %s element %d is %T, expected integer", domain.ErrProcedureFault, name, idx, tuple[idx])
	}
	return v, nil
}

// tupleString lê um elemento string de uma tupla de resposta
func tupleString(name string, tuple []interface{}, idx int) (string, error) {
	v, ok := tuple[idx].(string)
	if !ok {
		return "", fmt.Errorf("%w: procedure %s element %d is %T, expected string", domain.ErrProcedureFault, name, idx, tuple[idx])
	}
	return v, nil
}
