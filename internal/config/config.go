package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clinsight/backend/internal/gateway"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server  ServerConfig
	Gateway gateway.ClientConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	gatewayCfg, err := loadGatewayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Gateway: gatewayCfg}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func loadGatewayConfig() (gateway.ClientConfig, error) {
	baseURL := strings.TrimSpace(os.Getenv("EVAL_API_BASE_URL"))
	if baseURL == "" {
		return gateway.ClientConfig{}, fmt.Errorf("EVAL_API_BASE_URL is required")
	}

	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("EVAL_API_TIMEOUT"); err != nil {
		return gateway.ClientConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return gateway.ClientConfig{}, fmt.Errorf("EVAL_API_TIMEOUT must be positive, got %d", *override)
		}
		timeoutSeconds = *override
	}

	return gateway.ClientConfig{
		BaseURL: baseURL,
		Token:   strings.TrimSpace(os.Getenv("EVAL_API_TOKEN")),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
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
