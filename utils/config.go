package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// defaultSubreddits are the communities searched until the user changes them
var defaultSubreddits = []string{"wallstreetbets", "stocks", "investing"}

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Reddit   RedditConfig
	Analysis AnalysisConfig
	Gemini   GeminiConfig
	Server   ServerConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// RedditConfig holds Reddit API configuration
type RedditConfig struct {
	ClientID             string
	ClientSecret         string
	UserAgent            string
	BaseURL              string
	Subreddits           []string
	MaxRequestsPerMinute int
	SearchLimit          int
}

// AnalysisConfig holds the default search window and post cap
type AnalysisConfig struct {
	LookbackDays int
	MaxPosts     int
}

// GeminiConfig holds sentiment API configuration
type GeminiConfig struct {
	APIKey                string
	Model                 string
	BaseURL               string
	MaxConcurrency        int
	RequestTimeoutSeconds int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                    int
	SearchRequestsPerMinute int
}

// LoadConfig loads configuration from the .env file, falling back to the
// process environment when the file is missing
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.WithField("file", envPath).Warn("No .env file found, using process environment")
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Reddit Sentiment"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Reddit: RedditConfig{
			ClientID:             getEnv("REDDIT_CLIENT_ID", ""),
			ClientSecret:         getEnv("REDDIT_CLIENT_SECRET", ""),
			UserAgent:            getEnv("REDDIT_USER_AGENT", "reddit-sentiment/1.0"),
			BaseURL:              getEnv("REDDIT_BASE_URL", ""),
			Subreddits:           parseSubreddits(getEnv("REDDIT_SUBREDDITS", "")),
			MaxRequestsPerMinute: getEnvAsInt("REDDIT_MAX_REQUESTS_PER_MINUTE", 100),
			SearchLimit:          clampInt(getEnvAsInt("REDDIT_SEARCH_LIMIT", 100), 1, 100),
		},
		Analysis: AnalysisConfig{
			LookbackDays: getEnvAsInt("ANALYSIS_LOOKBACK_DAYS", 30),
			MaxPosts:     getEnvAsInt("ANALYSIS_MAX_POSTS", 30),
		},
		Gemini: GeminiConfig{
			APIKey:                strings.TrimSpace(getEnv("GEMINI_API_KEY", "")),
			Model:                 getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			BaseURL:               getEnv("GEMINI_BASE_URL", ""),
			MaxConcurrency:        getEnvAsInt("GEMINI_MAX_CONCURRENCY", 10),
			RequestTimeoutSeconds: getEnvAsInt("GEMINI_REQUEST_TIMEOUT_SECONDS", 60),
		},
		Server: ServerConfig{
			Port:                    getEnvAsInt("SERVER_PORT", 8080),
			SearchRequestsPerMinute: getEnvAsInt("SEARCH_REQUESTS_PER_MINUTE", 10),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// parseSubreddits parses a comma-separated list of subreddits, dropping blanks
// and repeats. An empty list falls back to the default communities.
func parseSubreddits(subredditsStr string) []string {
	parts := strings.Split(subredditsStr, ",")

	seen := make(map[string]bool, len(parts))
	subreddits := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		subreddits = append(subreddits, trimmed)
	}

	if len(subreddits) == 0 {
		subreddits = append(subreddits, defaultSubreddits...)
	}

	return subreddits
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// credentials are optional, but only as a pair
	if (config.Reddit.ClientID == "") != (config.Reddit.ClientSecret == "") {
		return fmt.Errorf("REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET must be set together")
	}

	// Reddit rejects requests with generic user agents
	if config.Reddit.UserAgent == "" {
		return fmt.Errorf("REDDIT_USER_AGENT environment variable is required")
	}
	if len(config.Reddit.Subreddits) == 0 {
		return fmt.Errorf("REDDIT_SUBREDDITS environment variable is required")
	}
	if config.Reddit.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("REDDIT_MAX_REQUESTS_PER_MINUTE must be positive")
	}
	if config.Analysis.LookbackDays < 1 {
		return fmt.Errorf("ANALYSIS_LOOKBACK_DAYS must be positive")
	}
	if config.Analysis.MaxPosts < 1 {
		return fmt.Errorf("ANALYSIS_MAX_POSTS must be positive")
	}
	if config.Gemini.MaxConcurrency < 1 {
		return fmt.Errorf("GEMINI_MAX_CONCURRENCY must be positive")
	}
	if config.Gemini.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("GEMINI_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if config.Server.SearchRequestsPerMinute < 1 {
		return fmt.Errorf("SEARCH_REQUESTS_PER_MINUTE must be positive")
	}

	return nil
}
