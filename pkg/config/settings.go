// Package config holds process settings sourced from the environment and
// the MCP server configuration file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the full runtime configuration. Every field has a default so
// the binary starts with nothing but an API key.
type Settings struct {
	// HTTP
	HTTPPort string

	// LLM
	APIKey      string
	APIBase     string
	ModelName   string
	Temperature float32
	MaxTokens   int

	// Storage
	SQLitePath      string
	StorageProvider string // "local" or "gridfs"
	FileStoragePath string
	MongoURI        string
	MongoDatabase   string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// Sandbox
	SandboxAddress    string // fixed address, bypasses docker lifecycle
	SandboxImage      string
	SandboxNamePrefix string
	SandboxTTLMinutes int
	SandboxNetwork    string
	SandboxChromeArgs string
	SandboxHTTPProxy  string
	SandboxHTTPSProxy string
	SandboxNoProxy    string
	DockerHost        string

	// Search
	SearchProvider       string // "bing" or "google"
	BingSearchAPIKey     string
	GoogleSearchAPIKey   string
	GoogleSearchEngineID string

	// Auth
	AuthProvider       string // "none", "local" or "password"
	LocalAuthEmail     string
	LocalAuthPassword  string
	LocalAuthAccounts  string // "user1:pass1,user2:pass2"
	PasswordSalt       string
	PasswordHashRounds int

	// JWT
	JWTSecretKey              string
	JWTAlgorithm              string
	JWTAccessTokenExpireMin   int
	JWTRefreshTokenExpireDays int

	// Email (verification codes)
	EmailHost     string
	EmailPort     int
	EmailUsername string
	EmailPassword string

	// MCP
	MCPConfigPath string

	LogLevel string
}

// Load reads settings from the environment, applying defaults for anything
// unset. It never fails; verification of required values happens where they
// are used.
func Load() *Settings {
	return &Settings{
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		APIKey:      getEnv("API_KEY", ""),
		APIBase:     getEnv("API_BASE", "https://open.bigmodel.cn/api/coding/paas/v4"),
		ModelName:   getEnv("MODEL_NAME", "glm-4.7"),
		Temperature: getEnvFloat("TEMPERATURE", 0.7),
		MaxTokens:   getEnvInt("MAX_TOKENS", 4096),

		SQLitePath:      getEnv("SQLITE_PATH", "data/steward.db"),
		StorageProvider: getEnv("STORAGE_PROVIDER", "local"),
		FileStoragePath: getEnv("FILE_STORAGE_PATH", "data/files"),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "steward"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		SandboxAddress:    getEnv("SANDBOX_ADDRESS", ""),
		SandboxImage:      getEnv("SANDBOX_IMAGE", "steadyops/steward-sandbox:latest"),
		SandboxNamePrefix: getEnv("SANDBOX_NAME_PREFIX", "steward-sandbox"),
		SandboxTTLMinutes: getEnvInt("SANDBOX_TTL_MINUTES", 30),
		SandboxNetwork:    getEnv("SANDBOX_NETWORK", ""),
		SandboxChromeArgs: getEnv("SANDBOX_CHROME_ARGS", ""),
		SandboxHTTPProxy:  getEnv("SANDBOX_HTTP_PROXY", ""),
		SandboxHTTPSProxy: getEnv("SANDBOX_HTTPS_PROXY", ""),
		SandboxNoProxy:    getEnv("SANDBOX_NO_PROXY", ""),
		DockerHost:        getEnv("DOCKER_HOST", ""),

		SearchProvider:       getEnv("SEARCH_PROVIDER", "bing"),
		BingSearchAPIKey:     getEnv("BING_SEARCH_API_KEY", ""),
		GoogleSearchAPIKey:   getEnv("GOOGLE_SEARCH_API_KEY", ""),
		GoogleSearchEngineID: getEnv("GOOGLE_SEARCH_ENGINE_ID", ""),

		AuthProvider:       getEnv("AUTH_PROVIDER", "local"),
		LocalAuthEmail:     getEnv("LOCAL_AUTH_EMAIL", "admin"),
		LocalAuthPassword:  getEnv("LOCAL_AUTH_PASSWORD", "admin123"),
		LocalAuthAccounts:  getEnv("LOCAL_AUTH_ACCOUNTS", ""),
		PasswordSalt:       getEnv("PASSWORD_SALT", "steward-salt"),
		PasswordHashRounds: getEnvInt("PASSWORD_HASH_ROUNDS", 10),

		JWTSecretKey:              getEnv("JWT_SECRET_KEY", "change-me"),
		JWTAlgorithm:              getEnv("JWT_ALGORITHM", "HS256"),
		JWTAccessTokenExpireMin:   getEnvInt("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		JWTRefreshTokenExpireDays: getEnvInt("JWT_REFRESH_TOKEN_EXPIRE_DAYS", 7),

		EmailHost:     getEnv("EMAIL_HOST", ""),
		EmailPort:     getEnvInt("EMAIL_PORT", 465),
		EmailUsername: getEnv("EMAIL_USERNAME", ""),
		EmailPassword: getEnv("EMAIL_PASSWORD", ""),

		MCPConfigPath: getEnv("MCP_CONFIG_PATH", "data/mcp.json"),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}
}

// RedisAddr returns host:port for the redis client.
func (s *Settings) RedisAddr() string {
	return s.RedisHost + ":" + strconv.Itoa(s.RedisPort)
}

// SandboxTTL returns the sandbox idle lifetime as a duration.
func (s *Settings) SandboxTTL() time.Duration {
	return time.Duration(s.SandboxTTLMinutes) * time.Minute
}

// EmailConfigured reports whether all SMTP settings required to send
// verification codes are present.
func (s *Settings) EmailConfigured() bool {
	return s.EmailHost != "" && s.EmailPort > 0 && s.EmailUsername != "" && s.EmailPassword != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float32) float32 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
	if err != nil {
		return defaultValue
	}
	return float32(v)
}
