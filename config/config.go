package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr    string
	PublicBaseURL string

	ClusterEndpoint string
	ClusterRegion   string
	ProjectID       string
	Namespace       string
	AccessKey       string
	SecretKey       string
	UserAgent       string

	JobImage           string
	JobImagePullPolicy string
	JobCPU             string
	JobMemory          string
	JobBackoffLimit    int
	JobTTLSeconds      int
	ServiceAccount     string
	ImagePullSecret    string

	SyncIntervalSeconds int

	S3Bucket       string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool

	UploadPrefix         string
	OutputPrefix         string
	DownloadURLExpirySec int

	StoreBackend string
	DatabaseURL  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "gifconv")
	dbUser := getEnv("DB_USERNAME", "gifconv")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}

	region := getEnv("CLUSTER_REGION", "")
	endpoint := getEnv("CLUSTER_API_ENDPOINT", "")
	if endpoint == "" && region != "" {
		endpoint = fmt.Sprintf("https://cci.%s.myhuaweicloud.com", region)
	}

	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		ClusterEndpoint: endpoint,
		ClusterRegion:   region,
		ProjectID:       getEnv("CLUSTER_PROJECT_ID", ""),
		Namespace:       getEnv("CLUSTER_NAMESPACE", "default"),
		AccessKey:       getEnv("CLUSTER_ACCESS_KEY", ""),
		SecretKey:       getEnv("CLUSTER_SECRET_KEY", ""),
		UserAgent:       getEnv("CLUSTER_USER_AGENT", ""),

		JobImage:           getEnv("JOB_IMAGE", ""),
		JobImagePullPolicy: getEnv("JOB_IMAGE_PULL_POLICY", "Always"),
		JobCPU:             getEnv("JOB_CPU", "1"),
		JobMemory:          getEnv("JOB_MEMORY", "2Gi"),
		JobBackoffLimit:    getEnvInt("JOB_BACKOFF_LIMIT", 0),
		JobTTLSeconds:      getEnvInt("JOB_TTL_SECONDS", 0),
		ServiceAccount:     getEnv("JOB_SERVICE_ACCOUNT", ""),
		ImagePullSecret:    getEnv("JOB_IMAGE_PULL_SECRET", ""),

		SyncIntervalSeconds: getEnvInt("SYNC_INTERVAL_SECONDS", 15),

		S3Bucket: getEnv("S3_BUCKET", "gifconv"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		S3AccessKey:    getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),

		UploadPrefix:         getEnv("UPLOAD_PREFIX", "uploads/"),
		OutputPrefix:         getEnv("OUTPUT_PREFIX", "gifs/"),
		DownloadURLExpirySec: getEnvInt("DOWNLOAD_URL_EXPIRY_SECONDS", 3600),

		StoreBackend: getEnv("STORE_BACKEND", "postgres"),
		DatabaseURL:  dbURL,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// WorkerEnv returns the object-store settings passed through to the
// conversion worker container so it can read and write artifacts.
func (c *Config) WorkerEnv() map[string]string {
	return map[string]string{
		"S3_BUCKET":   c.S3Bucket,
		"S3_REGION":   c.S3Region,
		"S3_KEY":      c.S3AccessKey,
		"S3_SECRET":   c.S3SecretKey,
		"S3_ENDPOINT": c.S3Endpoint,
	}
}

// MissingDispatchSettings lists required dispatch configuration that is
// absent. A non-empty result means dispatch must fail before any network
// call.
func (c *Config) MissingDispatchSettings() []string {
	var missing []string
	if c.ClusterEndpoint == "" {
		missing = append(missing, "CLUSTER_API_ENDPOINT or CLUSTER_REGION")
	}
	if c.ProjectID == "" {
		missing = append(missing, "CLUSTER_PROJECT_ID")
	}
	if c.AccessKey == "" {
		missing = append(missing, "CLUSTER_ACCESS_KEY")
	}
	if c.SecretKey == "" {
		missing = append(missing, "CLUSTER_SECRET_KEY")
	}
	if c.JobImage == "" {
		missing = append(missing, "JOB_IMAGE")
	}
	return missing
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
