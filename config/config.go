package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance" toml:"binance"`
	TradingConfig      TradingSettings    `json:"trading" toml:"trading"`
	NotificationConfig NotificationConfig `json:"notification" toml:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging" toml:"logging"`
	AIConfig           AIConfig           `json:"ai" toml:"ai"`
	ServerConfig       ServerConfig       `json:"server" toml:"server"`
	AuthConfig         AuthConfig         `json:"auth" toml:"auth"`
	VaultConfig        VaultConfig        `json:"vault" toml:"vault"`
	RedisConfig        RedisConfig        `json:"redis" toml:"redis"`
}

type LoggingConfig struct {
	Level       string `json:"level" toml:"level"`               // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output" toml:"output"`             // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format" toml:"json_format"`   // Output as JSON
	IncludeFile bool   `json:"include_file" toml:"include_file"` // Include file and line number
}

type BinanceConfig struct {
	APIKey         string `json:"api_key" toml:"api_key"`
	SecretKey      string `json:"secret_key" toml:"secret_key"`
	RequestTimeout int    `json:"request_timeout" toml:"request_timeout"` // Seconds per exchange call
}

// HasCredentials reports whether both exchange keys are set to something other than a placeholder
func (b BinanceConfig) HasCredentials() bool {
	if b.APIKey == "" || b.SecretKey == "" {
		return false
	}
	return !strings.HasPrefix(b.APIKey, "YOUR_") && !strings.HasPrefix(b.SecretKey, "YOUR_")
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled" toml:"enabled"`
	Telegram TelegramConfig `json:"telegram" toml:"telegram"`
}

type TelegramConfig struct {
	Enabled         bool    `json:"enabled" toml:"enabled"`
	BotToken        string  `json:"bot_token" toml:"bot_token"`
	AdminIDs        []int64 `json:"admin_ids" toml:"admin_ids"`
	APIBaseURL      string  `json:"api_base_url" toml:"api_base_url"`         // Fallback endpoint host
	PrimaryTimeout  int     `json:"primary_timeout" toml:"primary_timeout"`   // Seconds
	FallbackTimeout int     `json:"fallback_timeout" toml:"fallback_timeout"` // Seconds
	QueueSize       int     `json:"queue_size" toml:"queue_size"`
	ListenCallbacks bool    `json:"listen_callbacks" toml:"listen_callbacks"` // Handle whale alert buttons
}

// AIConfig holds the advisory LLM configuration
type AIConfig struct {
	Enabled     bool    `json:"enabled" toml:"enabled"`
	LLMProvider string  `json:"llm_provider" toml:"llm_provider"` // "claude", "openai", "deepseek" or "gemini"
	APIKey      string  `json:"api_key" toml:"api_key"`
	LLMModel    string  `json:"llm_model" toml:"llm_model"`
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens"`
	Temperature float64 `json:"temperature" toml:"temperature"`
	Timeout     int     `json:"timeout" toml:"timeout"` // Seconds
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled" toml:"enabled"`
	Port            int    `json:"port" toml:"port"`
	Host            string `json:"host" toml:"host"`
	AllowedOrigins  string `json:"allowed_origins" toml:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout" toml:"read_timeout"`       // Seconds
	WriteTimeout    int    `json:"write_timeout" toml:"write_timeout"`     // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" toml:"shutdown_timeout"`
	RateLimit       int    `json:"rate_limit" toml:"rate_limit"` // Requests per minute per client
}

// Principal is an operator allowed to drive the engine
type Principal struct {
	Username     string `json:"username" toml:"username"`
	PasswordHash string `json:"password_hash" toml:"password_hash"` // bcrypt
	TelegramID   int64  `json:"telegram_id" toml:"telegram_id"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled" toml:"enabled"`
	JWTSecret           string        `json:"jwt_secret" toml:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration" toml:"access_token_duration"`
	Principals          []Principal   `json:"principals" toml:"principals"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled"`
	Address    string `json:"address" toml:"address"`
	Token      string `json:"token" toml:"token"`
	MountPath  string `json:"mount_path" toml:"mount_path"`   // KV secrets engine mount path
	SecretPath string `json:"secret_path" toml:"secret_path"` // Path of the bot credentials
	TLSEnabled bool   `json:"tls_enabled" toml:"tls_enabled"`
	CACert     string `json:"ca_cert" toml:"ca_cert"`
}

// RedisConfig holds Redis configuration for the advice cache mirror
type RedisConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	Address   string `json:"address" toml:"address"`
	Password  string `json:"password" toml:"password"`
	DB        int    `json:"db" toml:"db"`
	PoolSize  int    `json:"pool_size" toml:"pool_size"`
	KeyPrefix string `json:"key_prefix" toml:"key_prefix"`
}

// Default returns a configuration populated with the built-in defaults
func Default() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{RequestTimeout: 10},
		TradingConfig: DefaultTradingSettings(),
		NotificationConfig: NotificationConfig{
			Telegram: TelegramConfig{
				APIBaseURL:      "https://api.telegram.org",
				PrimaryTimeout:  20,
				FallbackTimeout: 15,
				QueueSize:       256,
			},
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		AIConfig: AIConfig{
			LLMProvider: "claude",
			LLMModel:    "claude-3-haiku-20240307",
			MaxTokens:   1024,
			Temperature: 0.3,
			Timeout:     30,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
			RateLimit:       120,
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration: 15 * time.Minute,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "whale-spot-bot/credentials",
		},
		RedisConfig: RedisConfig{
			Address:   "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "whalebot:advice:",
		},
	}
}

// Load reads the config file (JSON or TOML by extension) and applies environment overrides.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = getEnvOrDefault("CONFIG_FILE", "config.json")
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-section consistency that file and env parsing cannot express
func (c *Config) Validate() error {
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth enabled but jwt_secret is empty")
	}
	if c.NotificationConfig.Telegram.Enabled && c.NotificationConfig.Telegram.BotToken == "" && !c.VaultConfig.Enabled {
		return fmt.Errorf("telegram enabled but bot_token is empty")
	}
	if _, ok := TradingModes[c.TradingConfig.TradingMode]; !ok {
		return fmt.Errorf("unknown trading mode %q", c.TradingConfig.TradingMode)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.RequestTimeout = getEnvIntOrDefault("BINANCE_REQUEST_TIMEOUT", cfg.BinanceConfig.RequestTimeout)

	// Trading settings
	t := &cfg.TradingConfig
	t.UseTestnet = getEnvBoolOrDefault("BINANCE_TESTNET", t.UseTestnet)
	t.MockMode = getEnvBoolOrDefault("MOCK_MODE", t.MockMode)
	t.UseRealTrading = getEnvBoolOrDefault("USE_REAL_TRADING", t.UseRealTrading)
	t.TradingMode = getEnvOrDefault("TRADING_MODE", t.TradingMode)
	t.Amount = getEnvFloatOrDefault("TRADE_AMOUNT", t.Amount)
	t.MaxConcurrentTrades = getEnvIntOrDefault("MAX_CONCURRENT_TRADES", t.MaxConcurrentTrades)
	t.AIDynamicMode = getEnvBoolOrDefault("AI_DYNAMIC_MODE", t.AIDynamicMode)
	if t.UseRealTrading {
		t.MockMode = false
	}

	// Notification config
	tg := &cfg.NotificationConfig.Telegram
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	tg.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", tg.Enabled)
	tg.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", tg.BotToken)
	if ids := os.Getenv("TELEGRAM_ADMIN_IDS"); ids != "" {
		tg.AdminIDs = parseIDList(ids)
	}

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// AI config
	cfg.AIConfig.Enabled = getEnvBoolOrDefault("AI_ENABLED", cfg.AIConfig.Enabled)
	cfg.AIConfig.LLMProvider = getEnvOrDefault("AI_LLM_PROVIDER", cfg.AIConfig.LLMProvider)
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.LLMModel = getEnvOrDefault("AI_LLM_MODEL", cfg.AIConfig.LLMModel)

	// Server config
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(file), config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	return config, nil
}

func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Default()
	config.BinanceConfig.APIKey = "YOUR_API_KEY"
	config.BinanceConfig.SecretKey = "YOUR_SECRET_KEY"
	config.NotificationConfig.Telegram.AdminIDs = []int64{}
	config.AuthConfig.Principals = []Principal{{Username: "operator", PasswordHash: "<bcrypt hash from cmd/auth-admin>"}}

	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(filename)) == ".toml" {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(config)
		data = []byte(sb.String())
	} else {
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
