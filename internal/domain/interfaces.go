package domain

import (
	"context"
	"time"
)

// AdmissionStorage define o contrato do núcleo de admissão contra o storage
// compartilhado. CheckAndConsume, RecordViolation, CheckBanned e Impose são
// cada um uma única ida ao storage, executados como procedure atômica; nenhum
// deles exige lock do chamador. Implementa o Strategy Pattern (redis | memory).
type AdmissionStorage interface {
	// CheckAndConsume remove entradas fora da janela, conta e, se houver
	// vaga, registra o evento e renova o TTL. Requisição rejeitada não
	// consome vaga.
	CheckAndConsume(ctx context.Context, identifier string, limit int, window time.Duration) (*LimitResult, error)

	// RecordViolation registra a violação incondicionalmente, renova o TTL,
	// apara a janela e informa se o limiar de escalada foi atingido.
	RecordViolation(ctx context.Context, identifier string, threshold int, window time.Duration) (*ViolationResult, error)

	// CheckBanned faz a leitura combinada do registro de ban e da contagem
	// de violações em uma única ida ao storage.
	CheckBanned(ctx context.Context, identifier string) (*BanStatus, error)

	// Impose grava o registro de ban com TTL igual à duração, congela a
	// contagem de violações no registro e zera o histórico. Sobrescreve ban
	// ativo, reiniciando o relógio.
	Impose(ctx context.Context, identifier, reason string, duration time.Duration) error

	// Status retorna a visão administrativa de um identificador. Fora do
	// hot path; pode usar mais de uma ida ao storage.
	Status(ctx context.Context, identifier string, limit int, window time.Duration) (*IdentifierStatus, error)

	// Reset limpa todos os registros de um identificador
	Reset(ctx context.Context, identifier string) error

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// AdmissionService define a orquestração de admissão consumida pelo gateway
type AdmissionService interface {
	// Admit decide a admissão de uma requisição: ban primeiro, depois
	// limiter, depois escalada de violações
	Admit(ctx context.Context, ip, apiKey string) (*AdmissionResult, error)

	// Ban impõe um ban manual a um identificador
	Ban(ctx context.Context, kind IdentifierKind, value, reason string, duration time.Duration) error

	// RuleFor retorna a regra de admissão aplicável a um identificador
	RuleFor(value string, kind IdentifierKind) *AdmissionRule

	// Status retorna a visão administrativa de um identificador
	Status(ctx context.Context, value string, kind IdentifierKind) (*IdentifierStatus, error)

	// Reset limpa os registros de admissão de um identificador
	Reset(ctx context.Context, value string, kind IdentifierKind) error

	// Health verifica a saúde do storage subjacente
	Health(ctx context.Context) error
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}

// ConfigLoader define a interface para carregamento de configurações
type ConfigLoader interface {
	LoadConfig() (*AdmissionConfig, error)
	LoadKeyConfigs() (map[string]KeyConfig, error)
	Reload() error
}
