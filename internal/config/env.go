package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	Port              string
	LogLevel          string
	JWTSecret         string
	UploadsDir        string
	DefaultCollection string

	// Chunking/embedding configuration in effect for new registrations.
	// Snapshotted onto each document row; later changes never touch
	// already-registered documents.
	EmbeddingModel string
	ChunkSize      int
	ChunkOverlap   int

	GeminiAPIKey string

	// Ingestion worker pool.
	WorkerCount int

	// Optional S3 archive of original uploads; disabled when the
	// credentials are absent.
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
}

// ArchiveEnabled reports whether uploads should also be archived to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		Port:              getEnv("PORT", "8000"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		UploadsDir:        getEnv("UPLOADS_DIR", "storage/uploads"),
		DefaultCollection: getEnv("DEFAULT_COLLECTION", "auto_ingestion_docs"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		ChunkSize:         getEnvInt("CHUNK_SIZE", 700),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 300),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		WorkerCount:       getEnvInt("INGEST_WORKERS", 4),
		AwsAccessKey:      getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:      getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:         getEnv("AWS_REGION", "us-east-2"),
		BucketName:        getEnv("BUCKET_NAME", ""),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
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
