package handler

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storage-gateway/internal/domain"
	"storage-gateway/internal/middleware"
)

// Handlers contém os handlers HTTP do gateway
type Handlers struct {
	service   domain.AdmissionService
	logger    domain.Logger
	admission gin.HandlerFunc
	registry  *prometheus.Registry
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(
	service domain.AdmissionService,
	logger domain.Logger,
	admission gin.HandlerFunc,
	registry *prometheus.Registry,
) *Handlers {
	return &Handlers{
		service:   service,
		logger:    logger,
		admission: admission,
		registry:  registry,
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas do gateway
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Rotas públicas (sem controle de admissão)
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", h.MetricsHandler)

	// Rotas protegidas pelo controle de admissão
	protected := router.Group("/v1")
	if h.admission != nil {
		protected.Use(h.admission)
	}
	{
		protected.GET("/objects", h.ObjectsHandler)
	}

	// Rotas administrativas (sem controle de admissão)
	admin := router.Group("/admin")
	{
		admin.GET("/status", h.AdminStatusHandler)
		admin.POST("/reset", h.AdminResetHandler)
		admin.POST("/ban", h.AdminBanHandler)
	}
}

// HealthHandler implementa o health check do gateway
func (h *Handlers) HealthHandler(c *gin.Context) {
	ctx := c.Request.Context()

	// Estatísticas do processo
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	response := gin.H{
		"status":    "healthy",
		"service":   "Storage Gateway API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
		"uptime":    uptime.String(),
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": formatBytes(m.Alloc),
			"memory_sys":   formatBytes(m.Sys),
			"gc_runs":      m.NumGC,
		},
	}

	if h.service != nil {
		if err := h.service.Health(ctx); err != nil {
			if h.logger != nil {
				h.logger.Error("Health check failed", err, map[string]interface{}{
					"uptime": uptime.String(),
				})
			}

			response["status"] = "degraded"
			response["reason"] = "admission store unreachable"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

// MetricsHandler expõe as métricas Prometheus do gateway
func (h *Handlers) MetricsHandler(c *gin.Context) {
	if h.registry == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "metrics_disabled",
			"message": "metrics registry not configured",
		})
		return
	}

	promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

// ObjectsHandler responde pelo catálogo de objetos atrás do controle de
// admissão. O proxy para os provedores de storage fica em outro serviço;
// aqui ele aparece como stub da superfície protegida.
func (h *Handlers) ObjectsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.logger.WithContext(ctx)

	clientIP := middleware.GetClientIP(c)
	apiKey := middleware.GetAPIKey(c)

	logger.Debug("Objects endpoint accessed", map[string]interface{}{
		"client_ip": clientIP,
		"api_key":   h.maskKey(apiKey),
		"path":      c.Request.URL.Path,
	})

	response := gin.H{
		"message":   "Hello from Storage Gateway API!",
		"service":   "Storage Gateway API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"client_ip": clientIP,
		"path":      c.Request.URL.Path,
		"method":    c.Request.Method,
		"objects":   []gin.H{},
	}

	// Adicionar informações da chave se presente
	if apiKey != "" {
		response["api_key"] = h.maskKey(apiKey)
	}

	c.JSON(http.StatusOK, response)
}

// AdminStatusHandler implementa a consulta administrativa de um identificador
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	// Extrair parâmetros da query
	value := strings.TrimSpace(c.Query("value"))
	kindParam := strings.TrimSpace(c.Query("kind"))

	// Log apenas se logger estiver configurado
	if h.logger != nil {
		logger := h.logger.WithContext(ctx)
		logger.Debug("Admin status endpoint accessed", map[string]interface{}{
			"value": h.maskValue(value, kindParam),
			"kind":  kindParam,
		})
	}

	// Validação de parâmetros
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "value parameter is required",
		})
		return
	}

	if kindParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "kind parameter is required",
		})
		return
	}

	kind, ok := parseIdentifierKind(kindParam)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "kind must be 'ip' or 'key'",
		})
		return
	}

	// Obter a visão administrativa do identificador
	status, err := h.service.Status(ctx, value, kind)
	if err != nil {
		if h.logger != nil {
			logger := h.logger.WithContext(ctx)
			logger.Error("Failed to get admission status", err, map[string]interface{}{
				"value": h.maskValue(value, kindParam),
				"kind":  kindParam,
			})
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to retrieve admission status",
		})
		return
	}

	// Preparar resposta
	response := gin.H{
		"identifier":   status.Identifier,
		"state":        status.State,
		"window_count": status.WindowCount,
		"limit":        status.Limit,
		"remaining":    max(0, status.Limit-status.WindowCount),
		"violations":   status.Violations,
		"checked_at":   status.CheckedAt.UTC().Format(time.RFC3339),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	// Adicionar detalhes do ban se presente
	if status.Ban != nil {
		response["ban"] = gin.H{
			"reason":          status.Ban.Reason,
			"issued_at":       status.Ban.IssuedAt.Unix(),
			"expires_at":      status.Ban.ExpiresAt.Unix(),
			"violation_count": status.Ban.ViolationCount,
		}
	}

	c.JSON(http.StatusOK, response)
}

// AdminResetRequest representa o corpo da requisição para reset
type AdminResetRequest struct {
	Value string `json:"value" binding:"required"`
	Kind  string `json:"kind" binding:"required"`
}

// AdminResetHandler implementa o reset administrativo de um identificador
func (h *Handlers) AdminResetHandler(c *gin.Context) {
	ctx := c.Request.Context()

	// Parse do JSON
	var req AdminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	// Limpar e validar parâmetros
	req.Value = strings.TrimSpace(req.Value)
	req.Kind = strings.TrimSpace(strings.ToLower(req.Kind))

	if h.logger != nil {
		logger := h.logger.WithContext(ctx)
		logger.Info("Admin reset endpoint accessed", map[string]interface{}{
			"value": h.maskValue(req.Value, req.Kind),
			"kind":  req.Kind,
		})
	}

	kind, ok := parseIdentifierKind(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "kind must be 'ip' or 'key'",
		})
		return
	}

	// Executar reset
	if err := h.service.Reset(ctx, req.Value, kind); err != nil {
		if h.logger != nil {
			logger := h.logger.WithContext(ctx)
			logger.Error("Failed to reset identifier", err, map[string]interface{}{
				"value": h.maskValue(req.Value, req.Kind),
				"kind":  req.Kind,
			})
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to reset identifier",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Identifier reset successfully",
		"value":     h.maskValue(req.Value, req.Kind),
		"kind":      req.Kind,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AdminBanRequest representa o corpo da requisição para ban manual
type AdminBanRequest struct {
	Value      string `json:"value" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
	DurationMs int64  `json:"duration_ms"`
}

// AdminBanHandler implementa a imposição administrativa de um ban
func (h *Handlers) AdminBanHandler(c *gin.Context) {
	ctx := c.Request.Context()

	// Parse do JSON
	var req AdminBanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	// Limpar e validar parâmetros
	req.Value = strings.TrimSpace(req.Value)
	req.Kind = strings.TrimSpace(strings.ToLower(req.Kind))
	req.Reason = strings.TrimSpace(req.Reason)

	if h.logger != nil {
		logger := h.logger.WithContext(ctx)
		logger.Info("Admin ban endpoint accessed", map[string]interface{}{
			"value":       h.maskValue(req.Value, req.Kind),
			"kind":        req.Kind,
			"reason":      req.Reason,
			"duration_ms": req.DurationMs,
		})
	}

	kind, ok := parseIdentifierKind(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "kind must be 'ip' or 'key'",
		})
		return
	}

	if req.DurationMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "duration_ms must be greater than 0",
		})
		return
	}

	duration := time.Duration(req.DurationMs) * time.Millisecond

	// Impor o ban
	if err := h.service.Ban(ctx, kind, req.Value, req.Reason, duration); err != nil {
		if h.logger != nil {
			logger := h.logger.WithContext(ctx)
			logger.Error("Failed to impose ban", err, map[string]interface{}{
				"value": h.maskValue(req.Value, req.Kind),
				"kind":  req.Kind,
			})
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to impose ban",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"message":    "Ban imposed successfully",
		"value":      h.maskValue(req.Value, req.Kind),
		"kind":       req.Kind,
		"expires_at": time.Now().Add(duration).Unix(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// parseIdentifierKind traduz o parâmetro textual para o tipo de identificador
func parseIdentifierKind(param string) (domain.IdentifierKind, bool) {
	switch strings.ToLower(param) {
	case "ip":
		return domain.ClientIPIdentifier, true
	case "key":
		return domain.APIKeyIdentifier, true
	default:
		return "", false
	}
}

// maskValue mascara o valor de acordo com o tipo do identificador
func (h *Handlers) maskValue(value, kind string) string {
	if strings.ToLower(kind) == "key" {
		return h.maskKey(value)
	}
	return value
}

// maskKey mascara chaves de API para logs de segurança
func (h *Handlers) maskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) <= 8 {
		return key + "***"
	}

	return key[:8] + "***"
}

// max retorna o maior dos dois valores
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// formatBytes formata bytes em formato legível
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + "KMGTPE"[exp:exp+1] + "B"
}
