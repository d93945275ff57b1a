package domain

import (
	"math"
	"strings"
	"time"
)

// IdentifierKind define os tipos de identificador sob controle de admissão
type IdentifierKind string

const (
	APIKeyIdentifier   IdentifierKind = "key"
	ClientIPIdentifier IdentifierKind = "ip"
)

// State representa o estado de admissão de um identificador.
// LIMITED é transitório e nunca é persistido; deriva do resultado do limiter.
type State string

const (
	StateClear   State = "CLEAR"
	StateLimited State = "LIMITED"
	StateBanned  State = "BANNED"
)

// DeriveState deriva o estado explícito a partir da presença dos registros
func DeriveState(banned, exceeded bool) State {
	switch {
	case banned:
		return StateBanned
	case exceeded:
		return StateLimited
	default:
		return StateClear
	}
}

// IdentifierFor monta o identificador opaco usado como sufixo de chave
func IdentifierFor(kind IdentifierKind, value string) string {
	return string(kind) + ":" + value
}

// ResolveIdentifier detecta o tipo de identificador da requisição.
// Prioriza API key se fornecida, senão usa o IP do cliente.
func ResolveIdentifier(ip, apiKey string) (IdentifierKind, string) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		return APIKeyIdentifier, apiKey
	}
	return ClientIPIdentifier, ip
}

// AdmissionRule define os parâmetros de admissão aplicados a um identificador
type AdmissionRule struct {
	ID                 string         `json:"id"`
	Kind               IdentifierKind `json:"kind"`
	Value              string         `json:"value"`
	Limit              int            `json:"limit"`
	Window             time.Duration  `json:"window"`
	ViolationThreshold int            `json:"violationThreshold"`
	ViolationWindow    time.Duration  `json:"violationWindow"`
	BanDuration        time.Duration  `json:"banDuration"`
	Description        string         `json:"description"`
}

// Identifier retorna o identificador opaco coberto pela regra
func (r *AdmissionRule) Identifier() string {
	return IdentifierFor(r.Kind, r.Value)
}

// LimitResult representa o resultado de uma chamada CheckAndConsume
type LimitResult struct {
	Exceeded       bool `json:"exceeded"`
	Current        int  `json:"current"`
	Limit          int  `json:"limit"`
	PercentageUsed int  `json:"percentageUsed"`
}

// ViolationResult representa o resultado de uma chamada RecordViolation
type ViolationResult struct {
	ShouldBan bool `json:"shouldBan"`
	Count     int  `json:"violationCount"`
}

// BanRecord é o registro estruturado de um ban ativo
type BanRecord struct {
	Reason         string    `json:"reason"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ViolationCount int       `json:"violationCountAtBan"`
}

// LiveAt informa se o ban ainda está vigente no instante dado
func (b *BanRecord) LiveAt(t time.Time) bool {
	return b != nil && t.Before(b.ExpiresAt)
}

// BanStatus representa a leitura combinada de ban e contagem de violações
type BanStatus struct {
	Banned     bool       `json:"banned"`
	Record     *BanRecord `json:"record,omitempty"`
	Violations int        `json:"violations"`
}

// AdmissionResult representa a decisão completa de admissão de uma requisição
type AdmissionResult struct {
	Allowed         bool           `json:"allowed"`
	State           State          `json:"state"`
	Kind            IdentifierKind `json:"kind"`
	Limit           int            `json:"limit"`
	Current         int            `json:"current"`
	Remaining       int            `json:"remaining"`
	PercentageUsed  int            `json:"percentageUsed"`
	Violations      int            `json:"violations"`
	NearLimit       bool           `json:"nearLimit"`
	CooldownExpired bool           `json:"cooldownExpired"`
	ResetTime       time.Time      `json:"resetTime"`
	Ban             *BanRecord     `json:"ban,omitempty"`
}

// IdentifierStatus representa a visão administrativa de um identificador
type IdentifierStatus struct {
	Identifier  string     `json:"identifier"`
	State       State      `json:"state"`
	WindowCount int        `json:"windowCount"`
	Limit       int        `json:"limit"`
	Violations  int        `json:"violations"`
	Ban         *BanRecord `json:"ban,omitempty"`
	CheckedAt   time.Time  `json:"checkedAt"`
}

// KeyConfig representa a configuração de uma API key específica
type KeyConfig struct {
	Key         string `json:"key"`
	Limit       int    `json:"limit"`
	Description string `json:"description"`
}

// AdmissionConfig representa todas as configurações do controle de admissão
type AdmissionConfig struct {
	DefaultIPLimit     int                  `json:"defaultIpLimit"`
	DefaultKeyLimit    int                  `json:"defaultKeyLimit"`
	Window             time.Duration        `json:"window"`
	ViolationThreshold int                  `json:"violationThreshold"`
	ViolationWindow    time.Duration        `json:"violationWindow"`
	BanDuration        time.Duration        `json:"banDuration"`
	WarnThresholdPct   int                  `json:"warnThresholdPct"`
	KeyConfigs         map[string]KeyConfig `json:"keyConfigs"`
}

// UsagePercent calcula o percentual de uso arredondado.
// Pode ultrapassar 100 quando current reflete uma tentativa rejeitada.
func UsagePercent(current, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(limit) * 100))
}
