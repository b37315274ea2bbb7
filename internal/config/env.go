package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	SslCertPath    string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string
	JWTSecret      string
	AllowedOrigins []string

	// streaming pipeline
	ChunkSize       int
	IngestWorkers   int
	IngestQueue     int
	IngestBatchSize int
	MaxUploadMB     int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SslCertPath:    getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "bitacora-tables"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8888"}),

		ChunkSize:       getEnvInt("CHUNK_SIZE", 800),
		IngestWorkers:   getEnvInt("INGEST_WORKERS", 2),
		IngestQueue:     getEnvInt("INGEST_QUEUE", 64),
		IngestBatchSize: getEnvInt("INGEST_BATCH_SIZE", 500),
		MaxUploadMB:     getEnvInt("MAX_UPLOAD_MB", 50),
	}
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must be a positive integer"))
	}
	if c.IngestWorkers <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must be a positive integer"))
	}
	if c.IngestBatchSize <= 0 {
		errs = append(errs, errors.New("INGEST_BATCH_SIZE must be a positive integer"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be a positive integer"))
	}
	return errors.Join(errs...)
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
