package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageDriverRemote     = "remote"
	StorageDriverFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	EngineURL          string
	UploadAPIURL       string
	PublicBaseURL      string
	StorageDriver      string
	StoragePath        string
	StorageCategory    string
	StorageNamespace   string
	StorageURLField    string
	WorkflowPath       string
	InputNode          string
	SeedNode           string
	OutputNode         string
	PollInterval       time.Duration
	MaxWait            time.Duration
	CORSAllowedOrigins []string
	RateLimitPerMin    int
	TrustProxyHeaders  bool
	GeoIPDBPath        string
	DefaultLocale      string
	MaxUploadBytes     int64
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		EngineURL:          strings.TrimRight(getEnv("COMFYUI_URL", "http://127.0.0.1:8188"), "/"),
		UploadAPIURL:       strings.TrimRight(getEnv("UPLOAD_API_URL", "https://threebody-test.vitoreality.com/yuangu-ar/api"), "/"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverRemote)),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageCategory:    getEnv("STORAGE_FILE_CATEGORY", "2"),
		StorageNamespace:   getEnv("STORAGE_NAMESPACE", "camera"),
		StorageURLField:    getEnv("STORAGE_URL_FIELD", "value"),
		WorkflowPath:       getEnv("WORKFLOW_PATH", "workflows/paper_cutting.json"),
		InputNode:          getEnv("WORKFLOW_INPUT_NODE", "78"),
		SeedNode:           getEnv("WORKFLOW_SEED_NODE", "115:3"),
		OutputNode:         getEnv("WORKFLOW_OUTPUT_NODE", "60"),
		PollInterval:       time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		MaxWait:            time.Second * time.Duration(getEnvInt("MAX_WAIT_SECONDS", 300)),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "zh"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 330)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if err := requireHTTPURL("COMFYUI_URL", cfg.EngineURL); err != nil {
		return nil, err
	}
	if err := requireHTTPURL("PUBLIC_BASE_URL", cfg.PublicBaseURL); err != nil {
		return nil, err
	}
	switch cfg.StorageDriver {
	case StorageDriverRemote:
		if err := requireHTTPURL("UPLOAD_API_URL", cfg.UploadAPIURL); err != nil {
			return nil, err
		}
	case StorageDriverFilesystem:
		if strings.TrimSpace(cfg.StoragePath) == "" {
			return nil, fmt.Errorf("STORAGE_PATH is required for the filesystem driver")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.PollInterval <= 0 || cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS and MAX_WAIT_SECONDS must be positive")
	}

	return cfg, nil
}

func requireHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i >= 0 {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
