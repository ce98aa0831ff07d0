package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"moneta/internal/core"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// Ledger
	DefaultBaseCurrency string

	// AMQP (rate refresh trigger queue)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Exchange rates
	RatesProviderURL  string
	RatesFetchTimeout time.Duration
	RatesFreshFor     time.Duration
	RatesPurgeDays    int
	RefreshInterval   time.Duration
	FetchConcurrency  int
}

func Load() *Config {
	return &Config{
		SQLiteDBPath:        getEnv("SQLITE_DB_PATH", "./data/moneta.db"),
		DefaultBaseCurrency: getEnv("DEFAULT_BASE_CURRENCY", "USD"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "moneta"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "refresh_rates"),

		RatesProviderURL:  getEnv("RATES_PROVIDER_URL", ""),
		RatesFetchTimeout: getEnvDuration("RATES_FETCH_TIMEOUT", 5*time.Second),
		RatesFreshFor:     getEnvDuration("RATES_FRESH_FOR", 24*time.Hour),
		RatesPurgeDays:    getEnvInt("RATES_PURGE_DAYS", 90),
		RefreshInterval:   getEnvDuration("REFRESH_INTERVAL", 24*time.Hour),
		FetchConcurrency:  getEnvInt("FETCH_CONCURRENCY", 4),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if _, err := core.NormalizeCurrency(c.DefaultBaseCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default base currency '%s'", c.DefaultBaseCurrency))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RatesProviderURL != "" {
		if parsedURL, err := url.Parse(c.RatesProviderURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid rates provider URL '%s': %v", c.RatesProviderURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid rates provider URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
	}

	if c.RatesFetchTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid rates fetch timeout %v: must be at least 100ms", c.RatesFetchTimeout))
	} else if c.RatesFetchTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates fetch timeout %v: must be at most 1 minute", c.RatesFetchTimeout))
	}

	if c.RatesFreshFor < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates freshness window %v: must be at least 1 minute", c.RatesFreshFor))
	}

	if c.RatesPurgeDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid rates purge age %d: must be at least 1 day", c.RatesPurgeDays))
	}

	if c.RefreshInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at least 1 minute", c.RefreshInterval))
	}

	if c.FetchConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid fetch concurrency %d: must be at least 1", c.FetchConcurrency))
	} else if c.FetchConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid fetch concurrency %d: must be at most 64", c.FetchConcurrency))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
