package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storage-gateway/internal/domain"
	"storage-gateway/internal/logger"
	"storage-gateway/internal/metrics"
)

// Modos de operação quando o storage compartilhado está indisponível
const (
	FallbackOpen   = "open"
	FallbackClosed = "closed"
)

const rateLimitMessage = "you have reached the maximum number of requests or actions allowed within a certain time frame"

// AdmissionMiddleware traduz a decisão de admissão para o pipeline HTTP.
// Injetável no servidor web; a decisão em si vive no service.
type AdmissionMiddleware struct {
	service  domain.AdmissionService
	logger   domain.Logger
	metrics  *metrics.Metrics
	fallback *FallbackLimiter
	mode     string
}

// Options agrupa os colaboradores opcionais do middleware
type Options struct {
	Metrics      *metrics.Metrics
	Fallback     *FallbackLimiter
	FallbackMode string
}

// NewAdmissionMiddleware cria uma nova instância do middleware
func NewAdmissionMiddleware(
	service domain.AdmissionService,
	log domain.Logger,
	opts Options,
) gin.HandlerFunc {
	middleware := &AdmissionMiddleware{
		service:  service,
		logger:   log,
		metrics:  opts.Metrics,
		fallback: opts.Fallback,
		mode:     opts.FallbackMode,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *AdmissionMiddleware) Handle(c *gin.Context) {
	start := time.Now()

	// Contexto com timeout para as idas ao storage
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	requestID := m.getRequestID(c)
	clientIP := m.extractClientIP(c)
	apiKey := m.extractAPIKey(c)

	ctx = logger.ContextWithRequestInfo(ctx, requestID, clientIP, apiKey, c.GetHeader("User-Agent"))
	log := m.logger.WithContext(ctx)

	log.Debug("Admission middleware initiated", map[string]interface{}{
		"client_ip":  clientIP,
		"api_key":    m.maskKey(apiKey),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": requestID,
	})

	result, err := m.service.Admit(ctx, clientIP, apiKey)
	if err != nil {
		m.handleStoreFailure(c, log, err, clientIP, apiKey, requestID)
		return
	}

	m.observeDecision(result, time.Since(start))
	m.setAdmissionHeaders(c, result)

	if !result.Allowed {
		m.reject(c, log, result, clientIP, apiKey, requestID)
		return
	}

	if result.CooldownExpired && m.metrics != nil {
		m.metrics.CooldownsExpired.Inc()
	}

	log.Debug("Request admitted by gateway", map[string]interface{}{
		"client_ip":  clientIP,
		"api_key":    m.maskKey(apiKey),
		"kind":       result.Kind,
		"limit":      result.Limit,
		"remaining":  result.Remaining,
		"request_id": requestID,
	})

	c.Next()
}

// reject encerra a requisição negada com o status do estado correspondente
func (m *AdmissionMiddleware) reject(c *gin.Context, log domain.Logger, result *domain.AdmissionResult, clientIP, apiKey, requestID string) {
	log.Info("Request rejected by gateway", map[string]interface{}{
		"client_ip":  clientIP,
		"api_key":    m.maskKey(apiKey),
		"state":      result.State,
		"kind":       result.Kind,
		"limit":      result.Limit,
		"request_id": requestID,
	})

	if result.State == domain.StateBanned {
		details := gin.H{
			"limit":      result.Limit,
			"reset_time": result.ResetTime.Unix(),
			"kind":       result.Kind,
		}
		if result.Ban != nil {
			details["reason"] = result.Ban.Reason
			details["expires_at"] = result.Ban.ExpiresAt.Unix()
			details["violation_count"] = result.Ban.ViolationCount
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "identifier_banned",
			"message": "you are temporarily banned due to repeated violations of the allowed request rate",
			"details": details,
		})
		c.Abort()
		return
	}

	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":   "rate_limit_exceeded",
		"message": rateLimitMessage,
		"details": gin.H{
			"limit":      result.Limit,
			"remaining":  result.Remaining,
			"reset_time": result.ResetTime.Unix(),
			"kind":       result.Kind,
		},
	})
	c.Abort()
}

// handleStoreFailure aplica o modo de contingência configurado quando o
// storage compartilhado não responde
func (m *AdmissionMiddleware) handleStoreFailure(c *gin.Context, log domain.Logger, err error, clientIP, apiKey, requestID string) {
	log.Error("Admission service error", err, map[string]interface{}{
		"client_ip":  clientIP,
		"api_key":    m.maskKey(apiKey),
		"request_id": requestID,
	})

	if m.metrics != nil {
		m.metrics.StoreErrors.WithLabelValues(metrics.ErrorKind(err)).Inc()
	}

	if m.mode != FallbackOpen || m.fallback == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "admission_unavailable",
			"message": "Unable to process admission check",
		})
		c.Abort()
		return
	}

	kind, value := domain.ResolveIdentifier(clientIP, apiKey)
	identifier := domain.IdentifierFor(kind, value)

	if !m.fallback.Allow(identifier) {
		if m.metrics != nil {
			m.metrics.FallbackDecisions.WithLabelValues("rejected").Inc()
		}

		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": rateLimitMessage,
		})
		c.Abort()
		return
	}

	if m.metrics != nil {
		m.metrics.FallbackDecisions.WithLabelValues("allowed").Inc()
	}

	log.Warn("Admission degraded to local fallback", map[string]interface{}{
		"identifier": identifier,
		"request_id": requestID,
	})

	c.Header("X-RateLimit-Degraded", "true")
	c.Next()
}

// observeDecision registra a decisão nas métricas
func (m *AdmissionMiddleware) observeDecision(result *domain.AdmissionResult, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}

	outcome := "allowed"
	switch {
	case result.State == domain.StateBanned:
		outcome = "banned"
	case !result.Allowed:
		outcome = "limited"
	}

	m.metrics.Decisions.WithLabelValues(outcome, string(result.Kind)).Inc()
	m.metrics.CheckDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// extractClientIP extrai o IP do cliente considerando proxies e load balancers
func (m *AdmissionMiddleware) extractClientIP(c *gin.Context) string {
	// Prioridade: X-Forwarded-For > X-Real-IP > RemoteAddr

	// X-Forwarded-For pode conter múltiplos IPs separados por vírgula
	// O primeiro é o IP original do cliente
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			clientIP := strings.TrimSpace(ips[0])
			if clientIP != "" {
				return clientIP
			}
		}
	}

	// X-Real-IP é usado por alguns proxies
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback para RemoteAddr (remove porta se presente)
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}

	// Se net.SplitHostPort falhar, retorna RemoteAddr como está
	return c.Request.RemoteAddr
}

// extractAPIKey extrai a chave de API dos headers
func (m *AdmissionMiddleware) extractAPIKey(c *gin.Context) string {
	// Prioridade: API_KEY > X-Api-Key > Api-Key
	if key := c.GetHeader("API_KEY"); key != "" {
		return strings.TrimSpace(key)
	}

	if key := c.GetHeader("X-Api-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	if key := c.GetHeader("Api-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// setAdmissionHeaders define headers informativos de rate limiting
func (m *AdmissionMiddleware) setAdmissionHeaders(c *gin.Context, result *domain.AdmissionResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	c.Header("X-RateLimit-Kind", string(result.Kind))
	c.Header("X-RateLimit-State", string(result.State))

	// Retry-After para requisições negadas
	if !result.Allowed {
		retryAfter := int(time.Until(result.ResetTime).Seconds())
		if retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}
	}
}

// getRequestID obtém ou gera um Request ID para tracking
func (m *AdmissionMiddleware) getRequestID(c *gin.Context) string {
	// Verifica se já existe no header
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}

	// Gera novo UUID
	requestID := uuid.New().String()
	c.Header("X-Request-ID", requestID)
	return requestID
}

// maskKey mascara a chave de API para logs de segurança
func (m *AdmissionMiddleware) maskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) <= 8 {
		return key + "***"
	}

	return key[:8] + "***"
}

// GetClientIP é uma função utilitária exportada para uso externo
func GetClientIP(c *gin.Context) string {
	middleware := &AdmissionMiddleware{}
	return middleware.extractClientIP(c)
}

// GetAPIKey é uma função utilitária exportada para uso externo
func GetAPIKey(c *gin.Context) string {
	middleware := &AdmissionMiddleware{}
	return middleware.extractAPIKey(c)
}
