package infra

import (
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "COMFYUI_URL", "UPLOAD_API_URL", "PUBLIC_BASE_URL",
		"STORAGE_DRIVER", "STORAGE_PATH", "POLL_INTERVAL_SECONDS", "MAX_WAIT_SECONDS",
		"CORS_ALLOWED_ORIGINS", "RATE_LIMIT_PER_MINUTE", "MAX_UPLOAD_MB", "TRUST_PROXY_HEADERS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.EngineURL != "http://127.0.0.1:8188" {
		t.Fatalf("EngineURL = %q", cfg.EngineURL)
	}
	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Fatalf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.PollInterval != 3*time.Second || cfg.MaxWait != 300*time.Second {
		t.Fatalf("poll timings = %s / %s", cfg.PollInterval, cfg.MaxWait)
	}
	if cfg.InputNode != "78" || cfg.SeedNode != "115:3" || cfg.OutputNode != "60" {
		t.Fatalf("unexpected workflow nodes: %s %s %s", cfg.InputNode, cfg.SeedNode, cfg.OutputNode)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxUploadBytes != 20<<20 {
		t.Fatalf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.StorageDriver != StorageDriverRemote {
		t.Fatalf("StorageDriver = %q", cfg.StorageDriver)
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("proxy headers trusted by default")
	}
}

func TestLoadConfigTrustProxyHeaders(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("TRUST_PROXY_HEADERS", "true")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatalf("TRUST_PROXY_HEADERS=true not applied")
	}
}

func TestLoadConfigPublicBaseInheritsPort(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "1919")
	t.Setenv("COMFYUI_URL", "http://10.0.0.11:8188/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "http://localhost:1919" {
		t.Fatalf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.EngineURL != "http://10.0.0.11:8188" {
		t.Fatalf("EngineURL should be trimmed, got %q", cfg.EngineURL)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "relative engine url", env: map[string]string{"COMFYUI_URL": "localhost:8188"}},
		{name: "ftp upload url", env: map[string]string{"UPLOAD_API_URL": "ftp://example.com"}},
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "s3"}},
		{name: "zero wait", env: map[string]string{"MAX_WAIT_SECONDS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigFilesystemDriverSkipsUploadURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STORAGE_DRIVER", "filesystem")
	t.Setenv("UPLOAD_API_URL", "not a url")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "abc")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitPerMin != 30 {
		t.Fatalf("invalid int should fall back, got %d", cfg.RateLimitPerMin)
	}
}
