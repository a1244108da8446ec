// Package vault loads bot credentials from a HashiCorp Vault KV v2 engine.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"whale-spot-bot/config"
)

var ErrSecretNotFound = errors.New("credentials secret not found")

// Credentials are the secrets the bot can read from Vault instead of the config file
type Credentials struct {
	BinanceAPIKey    string `json:"binance_api_key"`
	BinanceSecretKey string `json:"binance_secret_key"`
	TelegramBotToken string `json:"telegram_bot_token"`
	AIAPIKey         string `json:"ai_api_key"`
}

// ApplyTo overwrites config values with every non-empty credential
func (c Credentials) ApplyTo(cfg *config.Config) {
	if c.BinanceAPIKey != "" {
		cfg.BinanceConfig.APIKey = c.BinanceAPIKey
	}
	if c.BinanceSecretKey != "" {
		cfg.BinanceConfig.SecretKey = c.BinanceSecretKey
	}
	if c.TelegramBotToken != "" {
		cfg.NotificationConfig.Telegram.BotToken = c.TelegramBotToken
	}
	if c.AIAPIKey != "" {
		cfg.AIConfig.APIKey = c.AIAPIKey
	}
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	logger zerolog.Logger
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger.With().Str("component", "vault").Logger(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// LoadCredentials reads the credentials secret. A disabled client returns empty credentials.
func (c *Client) LoadCredentials(ctx context.Context) (Credentials, error) {
	if !c.config.Enabled {
		return Credentials{}, nil
	}

	path := c.secretPath()
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, ErrSecretNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("invalid secret format at %s", path)
	}

	creds := Credentials{
		BinanceAPIKey:    getString(data, "binance_api_key"),
		BinanceSecretKey: getString(data, "binance_secret_key"),
		TelegramBotToken: getString(data, "telegram_bot_token"),
		AIAPIKey:         getString(data, "ai_api_key"),
	}

	c.logger.Info().
		Str("path", path).
		Bool("binance", creds.BinanceAPIKey != "").
		Bool("telegram", creds.TelegramBotToken != "").
		Bool("ai", creds.AIAPIKey != "").
		Msg("Loaded credentials from vault")
	return creds, nil
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of the credentials secret
func (c *Client) secretPath() string {
	mount := strings.Trim(c.config.MountPath, "/")
	return fmt.Sprintf("%s/data/%s", mount, strings.Trim(c.config.SecretPath, "/"))
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		}
	}
	return ""
}
