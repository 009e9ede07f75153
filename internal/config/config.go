package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configurable knob across the binaries.
type Config struct {
	Client ClientConfig
	Server ServerConfig
	AI     AIConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Client: client, Server: server, AI: ai}, nil
}

// ClientConfig drives the terminal client.
type ClientConfig struct {
	// BaseURL of the backend the client syncs against.
	BaseURL string
	// Transport selects the push channel: "sse" or "ws".
	Transport string
	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string
}

func loadClientConfig() (ClientConfig, error) {
	transport := strings.ToLower(getEnvOrDefault("AGORA_TRANSPORT", "sse"))
	if transport != "sse" && transport != "ws" {
		return ClientConfig{}, fmt.Errorf("invalid AGORA_TRANSPORT value %q: want sse or ws", transport)
	}

	return ClientConfig{
		BaseURL:   getEnvOrDefault("AGORA_BASE_URL", "http://localhost:8080"),
		Transport: transport,
		AuthToken: strings.TrimSpace(os.Getenv("AGORA_AUTH_TOKEN")),
	}, nil
}

// ServerConfig describes the devserver's HTTP listener.
type ServerConfig struct {
	Addr string
	// StreamDelay is the per-chunk delay in milliseconds for scripted
	// streams; 0 emits as fast as the writer flushes.
	StreamDelay int
	// ReportDelay is the simulated write-propagation lag, in seconds,
	// between a review completing and its report becoming fetchable.
	ReportDelay int
	// SeedDemo controls whether demo rooms are created at startup.
	SeedDemo bool
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		// Accept both ":8080"/"127.0.0.1:8080" and a bare port number.
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	streamDelay := 40
	if override, err := parseOptionalIntEnv("STREAM_DELAY_MS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override >= 0 {
		streamDelay = *override
	}

	reportDelay := 6
	if override, err := parseOptionalIntEnv("REPORT_DELAY_SECONDS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override >= 0 {
		reportDelay = *override
	}

	seedDemo, err := parseBoolEnv("SEED_DEMO", true)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:        addr,
		StreamDelay: streamDelay,
		ReportDelay: reportDelay,
		SeedDemo:    seedDemo,
	}, nil
}

// AIConfig holds the optional Ark model credentials used by the devserver
// to generate real content instead of scripted streams.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + ARK_MODEL, or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
