package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storage-gateway/internal/domain"
	"storage-gateway/internal/logger"
	"storage-gateway/internal/metrics"
	"storage-gateway/internal/middleware"
	"storage-gateway/internal/service"
	"storage-gateway/internal/storage"
)

// e2eSuite sobe o gateway completo sobre o storage em memória
type e2eSuite struct {
	router *gin.Engine
	server *httptest.Server
	store  *storage.MemoryStorage
	client *http.Client
}

func setupE2E(t *testing.T, cfg *domain.AdmissionConfig) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	appLogger := logger.NewLogger("error", "json")
	store := storage.NewMemoryStorage(appLogger)

	tracker := service.NewCooldownTracker()
	admissionService := service.NewAdmissionService(store, cfg, appLogger, tracker)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	admission := middleware.NewAdmissionMiddleware(admissionService, appLogger, middleware.Options{
		Metrics: m,
	})

	handlers := NewHandlers(admissionService, appLogger, admission, registry)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.SetupRoutes(router)

	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		_ = store.Close()
	})

	return &e2eSuite{
		router: router,
		server: server,
		store:  store,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func e2eConfig() *domain.AdmissionConfig {
	return &domain.AdmissionConfig{
		DefaultIPLimit:     3,
		DefaultKeyLimit:    10,
		Window:             time.Minute,
		ViolationThreshold: 10,
		ViolationWindow:    time.Minute,
		BanDuration:        time.Minute,
		WarnThresholdPct:   80,
		KeyConfigs: map[string]domain.KeyConfig{
			"premium-key-abc123": {Key: "premium-key-abc123", Limit: 100, Description: "premium tier"},
		},
	}
}

// get executa um GET com os headers de identificação do cliente
func (s *e2eSuite) get(t *testing.T, path, forwardedFor, apiKey string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest("GET", s.server.URL+path, nil)
	require.NoError(t, err)

	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	if apiKey != "" {
		req.Header.Set("API_KEY", apiKey)
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, body
}

// postJSON executa um POST nos endpoints administrativos
func (s *e2eSuite) postJSON(t *testing.T, path string, payload map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := s.client.Post(s.server.URL+path, "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))

	return resp.StatusCode, parsed
}

func parseJSON(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &parsed))
	return parsed
}

func TestGatewayE2E(t *testing.T) {
	suite := setupE2E(t, e2eConfig())

	t.Run("Health endpoint should be accessible", func(t *testing.T) {
		resp, body := suite.get(t, "/health", "", "")

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		response := parseJSON(t, body)
		assert.Equal(t, "healthy", response["status"])
		assert.Equal(t, "Storage Gateway API", response["service"])
	})

	t.Run("Metrics endpoint should expose Prometheus metrics", func(t *testing.T) {
		// Uma requisição admitida garante amostras nos contadores
		resp, _ := suite.get(t, "/v1/objects", "203.0.113.10", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := suite.get(t, "/metrics", "", "")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "gateway_admission_decisions_total")
		assert.Contains(t, string(body), "gateway_admission_check_duration_seconds")
	})

	t.Run("IP admission should allow up to the limit and then reject", func(t *testing.T) {
		clientIP := "203.0.113.100"

		// Primeiras 3 requisições devem passar
		for i := 1; i <= 3; i++ {
			resp, _ := suite.get(t, "/v1/objects", clientIP, "")

			assert.Equal(t, http.StatusOK, resp.StatusCode, "request %d should be allowed", i)
			assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
			assert.Equal(t, fmt.Sprintf("%d", 3-i), resp.Header.Get("X-RateLimit-Remaining"))
			assert.Equal(t, "ip", resp.Header.Get("X-RateLimit-Kind"))
			assert.Equal(t, "CLEAR", resp.Header.Get("X-RateLimit-State"))
		}

		// A quarta deve ser rejeitada sem consumir vaga
		resp, body := suite.get(t, "/v1/objects", clientIP, "")

		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "LIMITED", resp.Header.Get("X-RateLimit-State"))
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))

		response := parseJSON(t, body)
		assert.Equal(t, "rate_limit_exceeded", response["error"])
		assert.Equal(t, "you have reached the maximum number of requests or actions allowed within a certain time frame", response["message"])
	})

	t.Run("API key rule should take precedence over exhausted IP", func(t *testing.T) {
		clientIP := "203.0.113.150"

		// Esgotar o limite por IP
		for i := 0; i < 3; i++ {
			resp, _ := suite.get(t, "/v1/objects", clientIP, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}
		resp, _ := suite.get(t, "/v1/objects", clientIP, "")
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

		// Mesmo IP com API key premium deve ser admitido pela regra da chave
		resp, _ = suite.get(t, "/v1/objects", clientIP, "premium-key-abc123")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "key", resp.Header.Get("X-RateLimit-Kind"))
		assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
	})

	t.Run("Admin endpoints should expose and reset admission state", func(t *testing.T) {
		clientIP := "203.0.113.200"

		// Consumir duas vagas
		for i := 0; i < 2; i++ {
			resp, _ := suite.get(t, "/v1/objects", clientIP, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}

		// Visão administrativa reflete o consumo
		resp, body := suite.get(t, "/admin/status?value="+clientIP+"&kind=ip", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		response := parseJSON(t, body)
		assert.Equal(t, "ip:"+clientIP, response["identifier"])
		assert.Equal(t, "CLEAR", response["state"])
		assert.Equal(t, float64(2), response["window_count"])
		assert.Equal(t, float64(3), response["limit"])

		// Reset limpa a janela
		status, reset := suite.postJSON(t, "/admin/reset", map[string]interface{}{
			"value": clientIP,
			"kind":  "ip",
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "success", reset["status"])

		resp, body = suite.get(t, "/admin/status?value="+clientIP+"&kind=ip", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		response = parseJSON(t, body)
		assert.Equal(t, float64(0), response["window_count"])

		// Ban manual bloqueia a superfície protegida
		status, ban := suite.postJSON(t, "/admin/ban", map[string]interface{}{
			"value":       clientIP,
			"kind":        "ip",
			"reason":      "manual abuse block",
			"duration_ms": 60000,
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "success", ban["status"])

		resp, body = suite.get(t, "/v1/objects", clientIP, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		response = parseJSON(t, body)
		assert.Equal(t, "identifier_banned", response["error"])

		details, ok := response["details"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "manual abuse block", details["reason"])

		// Reset remove o ban e libera o identificador
		status, _ = suite.postJSON(t, "/admin/reset", map[string]interface{}{
			"value": clientIP,
			"kind":  "ip",
		})
		require.Equal(t, http.StatusOK, status)

		resp, _ = suite.get(t, "/v1/objects", clientIP, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestGatewayE2E_BanEscalation(t *testing.T) {
	cfg := &domain.AdmissionConfig{
		DefaultIPLimit:     2,
		DefaultKeyLimit:    10,
		Window:             500 * time.Millisecond,
		ViolationThreshold: 2,
		ViolationWindow:    2 * time.Second,
		BanDuration:        500 * time.Millisecond,
		WarnThresholdPct:   90,
	}
	suite := setupE2E(t, cfg)

	clientIP := "203.0.113.77"

	// Preencher a janela
	for i := 0; i < 2; i++ {
		resp, _ := suite.get(t, "/v1/objects", clientIP, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Primeira violação ainda responde como limitado
	resp, body := suite.get(t, "/v1/objects", clientIP, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", parseJSON(t, body)["error"])

	// Segunda violação atinge o limiar e escala para ban
	resp, body = suite.get(t, "/v1/objects", clientIP, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	response := parseJSON(t, body)
	assert.Equal(t, "identifier_banned", response["error"])

	details, ok := response["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "repeated rate limit violations", details["reason"])
	assert.Equal(t, float64(2), details["violation_count"])

	// Com o ban ativo a checagem é curto-circuitada
	resp, _ = suite.get(t, "/v1/objects", clientIP, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "BANNED", resp.Header.Get("X-RateLimit-State"))

	// Expirados o ban e a janela, o identificador volta a ser admitido
	time.Sleep(800 * time.Millisecond)

	resp, _ = suite.get(t, "/v1/objects", clientIP, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CLEAR", resp.Header.Get("X-RateLimit-State"))
}

func TestGatewayE2E_Concurrency(t *testing.T) {
	cfg := &domain.AdmissionConfig{
		DefaultIPLimit:     3,
		DefaultKeyLimit:    10,
		Window:             time.Minute,
		ViolationThreshold: 1000,
		ViolationWindow:    time.Minute,
		BanDuration:        time.Minute,
		WarnThresholdPct:   80,
	}
	suite := setupE2E(t, cfg)

	const workers = 10
	const requestsPerWorker = 3
	clientIP := "198.51.100.9"

	var wg sync.WaitGroup
	results := make(chan int, workers*requestsPerWorker)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requestsPerWorker; j++ {
				req, err := http.NewRequest("GET", suite.server.URL+"/v1/objects", nil)
				if err != nil {
					results <- 0
					continue
				}
				req.Header.Set("X-Forwarded-For", clientIP)

				resp, err := suite.client.Do(req)
				if err != nil {
					results <- 0
					continue
				}
				resp.Body.Close()
				results <- resp.StatusCode
			}
		}()
	}

	wg.Wait()
	close(results)

	statusOK := 0
	statusLimited := 0
	statusOther := 0

	for code := range results {
		switch code {
		case http.StatusOK:
			statusOK++
		case http.StatusTooManyRequests:
			statusLimited++
		default:
			statusOther++
		}
	}

	// Sob corrida, o número de admissões nunca passa do limite
	assert.Equal(t, 3, statusOK, "exactly the limit should be admitted")
	assert.Equal(t, workers*requestsPerWorker-3, statusLimited)
	assert.Zero(t, statusOther, "no request should fail with an unexpected status")
}
