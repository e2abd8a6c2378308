package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerPort    string
	PublicBaseURL string // Base URL listeners use to reach this server (blob links)

	DBDriver   string // mysql or postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// MinIO mirror of pinned payloads, disabled when MinioEndpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	LighthouseAPIKey  string
	LighthouseNodeURL string
	IPFSGatewayURL    string

	NeynarAPIKey  string
	NeynarBaseURL string

	// Ethereum mainnet RPC for ENS names, disabled when empty
	ENSRPCURL string

	TacoBridgeURL string
	TacoDomain    string
	TacoRPCURL    string
	TacoRitualID  int
	TacoChainID   int

	JWTSecret string
	TokenTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	FFprobePath string

	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return fromEnv()
}

func fromEnv() *Config {
	port := getEnv("SERVER_PORT", "8080")

	return &Config{
		ServerPort:    port,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for the password
		DBName:     getEnv("DB_NAME", "soundproof"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      getEnvDuration("CACHE_TTL", 30*time.Second),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "soundproof"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LighthouseAPIKey:  getEnv("LIGHTHOUSE_API_KEY", ""),
		LighthouseNodeURL: getEnv("LIGHTHOUSE_NODE_URL", "https://node.lighthouse.storage"),
		IPFSGatewayURL:    strings.TrimRight(getEnv("IPFS_GATEWAY_URL", "https://gateway.lighthouse.storage/ipfs"), "/"),

		NeynarAPIKey:  getEnv("NEYNAR_API_KEY", ""),
		NeynarBaseURL: getEnv("NEYNAR_BASE_URL", "https://api.neynar.com/v2/farcaster"),

		ENSRPCURL: getEnv("ENS_RPC_URL", ""),

		TacoBridgeURL: getEnv("TACO_BRIDGE_URL", "http://127.0.0.1:3100"),
		TacoDomain:    getEnv("TACO_DOMAIN", "devnet"),
		TacoRPCURL:    getEnv("TACO_RPC_URL", "https://rpc-amoy.polygon.technology"),
		TacoRitualID:  getEnvInt("TACO_RITUAL_ID", 27),
		TacoChainID:   getEnvInt("TACO_CHAIN_ID", 80002),

		JWTSecret: getEnv("JWT_SECRET", "soundproof-dev-secret"),
		TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "soundproof.plays"),

		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// MirrorEnabled reports whether the MinIO payload mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.MinioEndpoint != ""
}
