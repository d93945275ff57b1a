package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"storage-gateway/internal/domain"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Storage Configuration
	StorageType string

	// Admission Control Configuration
	DefaultIPLimit     int
	DefaultKeyLimit    int
	RateWindowMs       int // janela deslizante em milissegundos
	ViolationThreshold int
	ViolationWindowMs  int // janela de violações em milissegundos
	BanDurationMs      int // duração do banimento em milissegundos
	WarnThresholdPct   int

	// Fallback Configuration
	FallbackMode string

	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// API Key Configuration File
	KeyConfigFile string
}

// KeysFile representa a estrutura do arquivo api_keys.json
type KeysFile struct {
	Keys map[string]domain.KeyConfig `json:"keys"`
}

// ConfigLoader implementa a interface domain.ConfigLoader
type ConfigLoader struct {
	config     *Config
	keyConfigs map[string]domain.KeyConfig
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		keyConfigs: make(map[string]domain.KeyConfig),
	}
}

// LoadConfig carrega as configurações do .env
func (c *ConfigLoader) LoadConfig() (*domain.AdmissionConfig, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	// Carrega configurações do ambiente
	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	c.config = config

	// Carrega configurações de API keys
	keyConfigs, err := c.LoadKeyConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load key configs: %w", err)
	}

	// Cria a configuração de admissão
	admissionConfig := &domain.AdmissionConfig{
		DefaultIPLimit:     config.DefaultIPLimit,
		DefaultKeyLimit:    config.DefaultKeyLimit,
		Window:             time.Duration(config.RateWindowMs) * time.Millisecond,
		ViolationThreshold: config.ViolationThreshold,
		ViolationWindow:    time.Duration(config.ViolationWindowMs) * time.Millisecond,
		BanDuration:        time.Duration(config.BanDurationMs) * time.Millisecond,
		WarnThresholdPct:   config.WarnThresholdPct,
		KeyConfigs:         keyConfigs,
	}

	return admissionConfig, nil
}

// LoadKeyConfigs carrega as configurações de API keys do arquivo JSON
func (c *ConfigLoader) LoadKeyConfigs() (map[string]domain.KeyConfig, error) {
	keyFile := c.getKeyConfigFile()

	// Verifica se o arquivo existe
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		fmt.Printf("Warning: API key config file %s not found, using only environment defaults\n", keyFile)
		return make(map[string]domain.KeyConfig), nil
	}

	// Lê o arquivo
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key config file: %w", err)
	}

	// Parse do JSON
	var keysFile KeysFile
	if err := json.Unmarshal(data, &keysFile); err != nil {
		return nil, fmt.Errorf("failed to parse key config file: %w", err)
	}

	// Valida as configurações de keys
	for key, config := range keysFile.Keys {
		if config.Limit <= 0 {
			return nil, fmt.Errorf("invalid limit for API key %s: must be greater than 0", key)
		}
		// Adiciona a key à configuração se não estiver presente
		if config.Key == "" {
			config.Key = key
			keysFile.Keys[key] = config
		}
	}

	c.keyConfigs = keysFile.Keys
	return keysFile.Keys, nil
}

// Reload recarrega todas as configurações
func (c *ConfigLoader) Reload() error {
	_, err := c.LoadConfig()
	return err
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// GetKeyConfig retorna a configuração de uma API key específica
func (c *ConfigLoader) GetKeyConfig(key string) (domain.KeyConfig, bool) {
	config, exists := c.keyConfigs[key]
	return config, exists
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		// Redis defaults
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Storage defaults
		StorageType: getEnvWithDefault("STORAGE_TYPE", "memory"),

		// Fallback defaults
		FallbackMode: getEnvWithDefault("FALLBACK_MODE", "closed"),

		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		// API key config file
		KeyConfigFile: getEnvWithDefault("API_KEYS_FILE", "internal/config/api_keys.json"),
	}

	// Parse Redis DB
	redisDB, err := strconv.Atoi(getEnvWithDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB value: %w", err)
	}
	config.RedisDB = redisDB

	// Parse admission control configuration
	defaultIPLimit, err := strconv.Atoi(getEnvWithDefault("RATE_LIMIT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT value: %w", err)
	}
	config.DefaultIPLimit = defaultIPLimit

	defaultKeyLimit, err := strconv.Atoi(getEnvWithDefault("DEFAULT_KEY_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_KEY_LIMIT value: %w", err)
	}
	config.DefaultKeyLimit = defaultKeyLimit

	rateWindowMs, err := strconv.Atoi(getEnvWithDefault("RATE_WINDOW_MS", "60000"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_WINDOW_MS value: %w", err)
	}
	config.RateWindowMs = rateWindowMs

	violationThreshold, err := strconv.Atoi(getEnvWithDefault("VIOLATION_THRESHOLD", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid VIOLATION_THRESHOLD value: %w", err)
	}
	config.ViolationThreshold = violationThreshold

	violationWindowMs, err := strconv.Atoi(getEnvWithDefault("VIOLATION_WINDOW_MS", "300000"))
	if err != nil {
		return nil, fmt.Errorf("invalid VIOLATION_WINDOW_MS value: %w", err)
	}
	config.ViolationWindowMs = violationWindowMs

	banDurationMs, err := strconv.Atoi(getEnvWithDefault("BAN_DURATION_MS", "180000"))
	if err != nil {
		return nil, fmt.Errorf("invalid BAN_DURATION_MS value: %w", err)
	}
	config.BanDurationMs = banDurationMs

	warnThresholdPct, err := strconv.Atoi(getEnvWithDefault("WARN_THRESHOLD_PERCENT", "80"))
	if err != nil {
		return nil, fmt.Errorf("invalid WARN_THRESHOLD_PERCENT value: %w", err)
	}
	config.WarnThresholdPct = warnThresholdPct

	// Valida configurações obrigatórias
	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.DefaultIPLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be greater than 0")
	}

	if config.DefaultKeyLimit <= 0 {
		return fmt.Errorf("DEFAULT_KEY_LIMIT must be greater than 0")
	}

	if config.RateWindowMs <= 0 {
		return fmt.Errorf("RATE_WINDOW_MS must be greater than 0")
	}

	if config.ViolationThreshold <= 0 {
		return fmt.Errorf("VIOLATION_THRESHOLD must be greater than 0")
	}

	if config.ViolationWindowMs <= 0 {
		return fmt.Errorf("VIOLATION_WINDOW_MS must be greater than 0")
	}

	if config.BanDurationMs <= 0 {
		return fmt.Errorf("BAN_DURATION_MS must be greater than 0")
	}

	if config.WarnThresholdPct <= 0 || config.WarnThresholdPct > 100 {
		return fmt.Errorf("WARN_THRESHOLD_PERCENT must be between 1 and 100")
	}

	if config.StorageType != "redis" && config.StorageType != "memory" {
		return fmt.Errorf("STORAGE_TYPE must be 'redis' or 'memory'")
	}

	if config.FallbackMode != "open" && config.FallbackMode != "closed" {
		return fmt.Errorf("FALLBACK_MODE must be 'open' or 'closed'")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	return nil
}

// getKeyConfigFile retorna o caminho do arquivo de configuração de API keys
func (c *ConfigLoader) getKeyConfigFile() string {
	if c.config != nil && c.config.KeyConfigFile != "" {
		return c.config.KeyConfigFile
	}
	return getEnvWithDefault("API_KEYS_FILE", "internal/config/api_keys.json")
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
