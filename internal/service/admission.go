package service

import (
	"context"
	"fmt"
	"time"

	"storage-gateway/internal/domain"
)

// escalationBanReason identifica bans aplicados automaticamente pelo limiter
const escalationBanReason = "repeated rate limit violations"

// AdmissionService implementa a lógica de negócio do controle de admissão.
// Separada do middleware: o middleware traduz HTTP, o serviço decide.
type AdmissionService struct {
	storage   domain.AdmissionStorage
	config    *domain.AdmissionConfig
	logger    domain.Logger
	cooldowns *CooldownTracker
}

// NewAdmissionService cria uma nova instância do serviço
func NewAdmissionService(
	storage domain.AdmissionStorage,
	config *domain.AdmissionConfig,
	logger domain.Logger,
	cooldowns *CooldownTracker,
) domain.AdmissionService {
	return &AdmissionService{
		storage:   storage,
		config:    config,
		logger:    logger,
		cooldowns: cooldowns,
	}
}

// Admit decide a admissão de uma requisição na ordem ban, limiter, escalada.
// Identificador banido não consome vaga da janela.
func (s *AdmissionService) Admit(ctx context.Context, ip, apiKey string) (*domain.AdmissionResult, error) {
	kind, value := domain.ResolveIdentifier(ip, apiKey)
	identifier := domain.IdentifierFor(kind, value)
	rule := s.RuleFor(value, kind)

	s.logger.Debug("Admission check initiated", map[string]interface{}{
		"ip":         ip,
		"api_key":    s.maskKey(apiKey),
		"kind":       kind,
		"identifier": identifier,
	})

	banStatus, err := s.storage.CheckBanned(ctx, identifier)
	if err != nil {
		s.logger.Error("Failed to check ban status", err, map[string]interface{}{
			"identifier": identifier,
		})
		return nil, fmt.Errorf("failed to check ban status: %w", err)
	}

	if banStatus.Banned {
		s.logger.Info("Request rejected by active ban", map[string]interface{}{
			"identifier": identifier,
			"reason":     banStatus.Record.Reason,
			"expires_at": banStatus.Record.ExpiresAt,
		})

		return &domain.AdmissionResult{
			Allowed:    false,
			State:      domain.StateBanned,
			Kind:       kind,
			Limit:      rule.Limit,
			Remaining:  0,
			Violations: banStatus.Violations,
			ResetTime:  banStatus.Record.ExpiresAt,
			Ban:        banStatus.Record,
		}, nil
	}

	limitResult, err := s.storage.CheckAndConsume(ctx, identifier, rule.Limit, rule.Window)
	if err != nil {
		s.logger.Error("Failed to consume window slot", err, map[string]interface{}{
			"identifier": identifier,
			"limit":      rule.Limit,
		})
		return nil, fmt.Errorf("failed to consume window slot: %w", err)
	}

	if limitResult.Exceeded {
		return s.handleExceeded(ctx, identifier, kind, rule, limitResult), nil
	}

	remaining := rule.Limit - limitResult.Current
	if remaining < 0 {
		remaining = 0
	}

	result := &domain.AdmissionResult{
		Allowed:        true,
		State:          domain.StateClear,
		Kind:           kind,
		Limit:          rule.Limit,
		Current:        limitResult.Current,
		Remaining:      remaining,
		PercentageUsed: limitResult.PercentageUsed,
		Violations:     banStatus.Violations,
		ResetTime:      time.Now().Add(rule.Window),
	}

	if s.cooldowns != nil && s.cooldowns.Observe(identifier) {
		result.CooldownExpired = true
		s.logger.Info("Limiter cooldown expired", map[string]interface{}{
			"identifier": identifier,
		})
	}

	if limitResult.PercentageUsed >= s.config.WarnThresholdPct {
		result.NearLimit = true
		s.logger.Warn("Identifier nearing rate limit", map[string]interface{}{
			"identifier":      identifier,
			"current":         limitResult.Current,
			"limit":           rule.Limit,
			"percentage_used": limitResult.PercentageUsed,
		})
	}

	s.logger.Debug("Request admitted", map[string]interface{}{
		"identifier": identifier,
		"current":    limitResult.Current,
		"remaining":  remaining,
	})

	return result, nil
}

// handleExceeded registra a violação e escala para ban quando o limiar é
// atingido. A negação já está decidida; falhas de registro ou de escalada
// não a revertem.
func (s *AdmissionService) handleExceeded(
	ctx context.Context,
	identifier string,
	kind domain.IdentifierKind,
	rule *domain.AdmissionRule,
	limitResult *domain.LimitResult,
) *domain.AdmissionResult {
	if s.cooldowns != nil {
		s.cooldowns.MarkLimited(identifier, rule.Window)
	}

	result := &domain.AdmissionResult{
		Allowed:        false,
		State:          domain.StateLimited,
		Kind:           kind,
		Limit:          rule.Limit,
		Current:        limitResult.Current,
		Remaining:      0,
		PercentageUsed: limitResult.PercentageUsed,
		ResetTime:      time.Now().Add(rule.Window),
	}

	violation, err := s.storage.RecordViolation(ctx, identifier, rule.ViolationThreshold, rule.ViolationWindow)
	if err != nil {
		s.logger.Error("Failed to record violation", err, map[string]interface{}{
			"identifier": identifier,
		})
		return result
	}

	result.Violations = violation.Count

	s.logger.Info("Rate limit exceeded", map[string]interface{}{
		"identifier":      identifier,
		"current":         limitResult.Current,
		"limit":           rule.Limit,
		"violation_count": violation.Count,
	})

	if !violation.ShouldBan {
		return result
	}

	if err := s.storage.Impose(ctx, identifier, escalationBanReason, rule.BanDuration); err != nil {
		s.logger.Error("Failed to impose ban", err, map[string]interface{}{
			"identifier":      identifier,
			"violation_count": violation.Count,
		})
		return result
	}

	now := time.Now()
	ban := &domain.BanRecord{
		Reason:         escalationBanReason,
		IssuedAt:       now,
		ExpiresAt:      now.Add(rule.BanDuration),
		ViolationCount: violation.Count,
	}

	s.logger.Info("Ban imposed after repeated violations", map[string]interface{}{
		"identifier":      identifier,
		"violation_count": violation.Count,
		"ban_duration":    rule.BanDuration,
		"expires_at":      ban.ExpiresAt,
	})

	result.State = domain.StateBanned
	result.Violations = violation.Count
	result.ResetTime = ban.ExpiresAt
	result.Ban = ban

	return result
}

// Ban impõe um ban manual a um identificador
func (s *AdmissionService) Ban(ctx context.Context, kind domain.IdentifierKind, value, reason string, duration time.Duration) error {
	identifier := domain.IdentifierFor(kind, value)

	if err := s.storage.Impose(ctx, identifier, reason, duration); err != nil {
		s.logger.Error("Failed to impose manual ban", err, map[string]interface{}{
			"identifier": identifier,
		})
		return fmt.Errorf("failed to impose ban: %w", err)
	}

	s.logger.Info("Manual ban imposed", map[string]interface{}{
		"identifier": identifier,
		"reason":     reason,
		"duration":   duration,
	})

	return nil
}

// RuleFor retorna a regra de admissão apropriada para um identificador
func (s *AdmissionService) RuleFor(value string, kind domain.IdentifierKind) *domain.AdmissionRule {
	var limit int
	var description string

	switch kind {
	case domain.ClientIPIdentifier:
		limit = s.config.DefaultIPLimit
		description = fmt.Sprintf("Default IP limit for %s", value)

	case domain.APIKeyIdentifier:
		// Verifica se há configuração específica para a chave
		if keyConfig, exists := s.config.KeyConfigs[value]; exists {
			limit = keyConfig.Limit
			description = keyConfig.Description
		} else {
			limit = s.config.DefaultKeyLimit
			description = fmt.Sprintf("Default key limit for %s", value)
		}

	default:
		// Fallback para IP se tipo desconhecido
		limit = s.config.DefaultIPLimit
		description = fmt.Sprintf("Fallback IP limit for %s", value)
	}

	return &domain.AdmissionRule{
		ID:                 domain.IdentifierFor(kind, value),
		Kind:               kind,
		Value:              value,
		Limit:              limit,
		Window:             s.config.Window,
		ViolationThreshold: s.config.ViolationThreshold,
		ViolationWindow:    s.config.ViolationWindow,
		BanDuration:        s.config.BanDuration,
		Description:        description,
	}
}

// Status retorna a visão administrativa de um identificador
func (s *AdmissionService) Status(ctx context.Context, value string, kind domain.IdentifierKind) (*domain.IdentifierStatus, error) {
	identifier := domain.IdentifierFor(kind, value)
	rule := s.RuleFor(value, kind)

	status, err := s.storage.Status(ctx, identifier, rule.Limit, rule.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	return status, nil
}

// Reset limpa os registros de admissão de um identificador
func (s *AdmissionService) Reset(ctx context.Context, value string, kind domain.IdentifierKind) error {
	identifier := domain.IdentifierFor(kind, value)

	if err := s.storage.Reset(ctx, identifier); err != nil {
		return fmt.Errorf("failed to reset identifier: %w", err)
	}

	s.logger.Info("Admission state reset", map[string]interface{}{
		"identifier": identifier,
		"kind":       kind,
	})

	return nil
}

// Health verifica a saúde do storage de admissão
func (s *AdmissionService) Health(ctx context.Context) error {
	if err := s.storage.Health(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

// maskKey mascara a chave de API para logs de segurança
func (s *AdmissionService) maskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) <= 8 {
		return key + "***"
	}

	return key[:8] + "***"
}
