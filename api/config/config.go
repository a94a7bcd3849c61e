package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port              string
	Env               string
	KafkaBrokers      string
	KafkaTopic        string
	RedisAddr         string
	StorageURL        string
	StorageServiceKey string
	PostsBucket       string
	PublicBucket      string
	EmbedderURL       string
	MaxImageSize      int64
}

func Load() *Config {
	return &Config{
		Port:              getEnv("SERVICE_PORT", "8081"),
		Env:               getEnv("ENV", "development"),
		KafkaBrokers:      getEnv("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "post_events"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		StorageURL:        getEnv("STORAGE_URL", "http://localhost:8000"),
		StorageServiceKey: getEnv("STORAGE_SERVICE_KEY", ""),
		PostsBucket:       getEnv("POSTS_BUCKET", "posts"),
		PublicBucket:      getEnv("PUBLIC_BUCKET", "public"),
		EmbedderURL:       getEnv("EMBEDDER_URL", "http://localhost:9090"),
		MaxImageSize:      getEnvAsInt64("MAX_IMAGE_SIZE", 20*1024*1024),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
