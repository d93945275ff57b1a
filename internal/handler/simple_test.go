package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"storage-gateway/internal/domain"
)

// TestHandlers_Basic testa funcionalidades básicas dos handlers
func TestHandlers_Basic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Health endpoint should return healthy status", func(t *testing.T) {
		// Arrange
		handlers := NewHandlers(nil, nil, nil, nil)
		router := gin.New()
		router.GET("/health", handlers.HealthHandler)

		// Act
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		// Assert
		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "healthy", response["status"])
		assert.Equal(t, "Storage Gateway API", response["service"])
		assert.NotEmpty(t, response["timestamp"])
		assert.Equal(t, "1.0.0", response["version"])
	})

	t.Run("Admin status should validate parameters", func(t *testing.T) {
		// Arrange
		handlers := NewHandlers(nil, nil, nil, nil)
		router := gin.New()
		router.GET("/admin/status", handlers.AdminStatusHandler)

		testCases := []struct {
			name           string
			query          string
			expectedStatus int
			expectedError  string
		}{
			{
				name:           "Missing value parameter",
				query:          "?kind=ip",
				expectedStatus: http.StatusBadRequest,
				expectedError:  "value parameter is required",
			},
			{
				name:           "Missing kind parameter",
				query:          "?value=192.168.1.1",
				expectedStatus: http.StatusBadRequest,
				expectedError:  "kind parameter is required",
			},
			{
				name:           "Invalid kind parameter",
				query:          "?value=192.168.1.1&kind=invalid",
				expectedStatus: http.StatusBadRequest,
				expectedError:  "kind must be 'ip' or 'key'",
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				// Act
				req := httptest.NewRequest("GET", "/admin/status"+tc.query, nil)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				// Assert
				assert.Equal(t, tc.expectedStatus, w.Code)

				var response map[string]interface{}
				err := json.Unmarshal(w.Body.Bytes(), &response)
				assert.NoError(t, err)
				assert.Equal(t, tc.expectedError, response["message"])
			})
		}
	})

	t.Run("Admin reset should validate JSON body", func(t *testing.T) {
		// Arrange
		handlers := NewHandlers(nil, nil, nil, nil)
		router := gin.New()
		router.POST("/admin/reset", handlers.AdminResetHandler)

		testCases := []struct {
			name           string
			body           string
			expectedStatus int
		}{
			{
				name:           "Invalid JSON",
				body:           `{invalid json}`,
				expectedStatus: http.StatusBadRequest,
			},
			{
				name:           "Missing value field",
				body:           `{"kind": "ip"}`,
				expectedStatus: http.StatusBadRequest,
			},
			{
				name:           "Missing kind field",
				body:           `{"value": "192.168.1.1"}`,
				expectedStatus: http.StatusBadRequest,
			},
			{
				name:           "Invalid kind value",
				body:           `{"value": "192.168.1.1", "kind": "invalid"}`,
				expectedStatus: http.StatusBadRequest,
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				// Act
				req := httptest.NewRequest("POST", "/admin/reset", bytes.NewBufferString(tc.body))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				// Assert
				assert.Equal(t, tc.expectedStatus, w.Code)

				var response map[string]interface{}
				err := json.Unmarshal(w.Body.Bytes(), &response)
				assert.NoError(t, err)
				assert.Equal(t, "validation_error", response["error"])
			})
		}
	})
}

// TestParseIdentifierKind testa a tradução do parâmetro de tipo
func TestParseIdentifierKind(t *testing.T) {
	testCases := []struct {
		input    string
		expected domain.IdentifierKind
		ok       bool
	}{
		{"ip", domain.ClientIPIdentifier, true},
		{"key", domain.APIKeyIdentifier, true},
		{"IP", domain.ClientIPIdentifier, true},
		{"KEY", domain.APIKeyIdentifier, true},
		{"token", "", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		t.Run("Input: "+tc.input, func(t *testing.T) {
			kind, ok := parseIdentifierKind(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, kind)
		})
	}
}

// TestMaskKey testa o mascaramento de chaves
func TestMaskKey(t *testing.T) {
	handlers := NewHandlers(nil, nil, nil, nil)

	testCases := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"short", "short***"},
		{"12345678", "12345678***"},
		{"123456789", "12345678***"},
		{"verylongapikey123456", "verylong***"},
	}

	for _, tc := range testCases {
		t.Run("Input: "+tc.input, func(t *testing.T) {
			result := handlers.maskKey(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}

// TestMaskValue testa o mascaramento condicionado ao tipo do identificador
func TestMaskValue(t *testing.T) {
	handlers := NewHandlers(nil, nil, nil, nil)

	testCases := []struct {
		name     string
		value    string
		kind     string
		expected string
	}{
		{"IP is not masked", "192.168.1.100", "ip", "192.168.1.100"},
		{"Key is masked", "secret-api-key-42", "key", "secret-a***"},
		{"Kind is case insensitive", "secret-api-key-42", "KEY", "secret-a***"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := handlers.maskValue(tc.value, tc.kind)
			assert.Equal(t, tc.expected, result)
		})
	}
}

// TestFormatBytes testa a formatação de bytes
func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		input    uint64
		expected string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := formatBytes(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}
