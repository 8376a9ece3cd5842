package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsFloatOrDefault(t *testing.T) {
	t.Setenv("TEST_FLOAT_1", "1.5")
	t.Setenv("TEST_FLOAT_2", "fast")

	if got := getEnvAsFloatOrDefault("TEST_FLOAT_1", 1); got != 1.5 {
		t.Errorf("Expected 1.5, got %v", got)
	}
	if got := getEnvAsFloatOrDefault("TEST_FLOAT_2", 2); got != 2 {
		t.Errorf("Expected default 2 for non-numeric, got %v", got)
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestLoad_ServerDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CHAT_RATE_WINDOW_SECONDS", "30")

	cfg := Load()
	if cfg.Port != "8000" {
		t.Errorf("Expected default port 8000, got %q", cfg.Port)
	}
	if cfg.GeminiAPIKey != "" {
		t.Errorf("Expected empty Gemini key, got %q", cfg.GeminiAPIKey)
	}
	if cfg.ChatRateLimit != 20 {
		t.Errorf("Expected chat rate limit 20, got %d", cfg.ChatRateLimit)
	}
	if cfg.ChatRateWindow != 30*time.Second {
		t.Errorf("Expected 30s window, got %s", cfg.ChatRateWindow)
	}
}

func TestLoadClient_Defaults(t *testing.T) {
	t.Setenv("CHAT_CONFIG_FILE", "")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.ServerURL != "http://localhost:8000" {
		t.Errorf("Expected default server url, got %q", cfg.ServerURL)
	}
	if cfg.Reconnect.Delay != 3*time.Second {
		t.Errorf("Expected 3s reconnect delay, got %s", cfg.Reconnect.Delay)
	}
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Errorf("Expected unlimited reconnects, got %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.Multiplier != 1 {
		t.Errorf("Expected constant delay, got multiplier %v", cfg.Reconnect.Multiplier)
	}
	if cfg.SocketURL() != "ws://localhost:8000/ws/chat/" {
		t.Errorf("Unexpected socket url %q", cfg.SocketURL())
	}
}

func TestLoadClient_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.toml")
	content := `
[server]
url = "https://chat.example.com/"
token = "from-file"

[reconnect]
delay_ms = 500
max_attempts = 4
multiplier = 2.0

[render]
stream_limit = 1024
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHAT_CONFIG_FILE", path)
	t.Setenv("CHAT_TOKEN", "from-env")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Token != "from-env" {
		t.Errorf("Expected env to override file token, got %q", cfg.Token)
	}
	if cfg.Reconnect.Delay != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 4 || cfg.Reconnect.Multiplier != 2 {
		t.Errorf("Unexpected reconnect config %+v", cfg.Reconnect)
	}
	if cfg.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("Expected default max delay to survive a partial file, got %s", cfg.Reconnect.MaxDelay)
	}
	if cfg.StreamRenderLimit != 1024 {
		t.Errorf("Expected stream limit 1024, got %d", cfg.StreamRenderLimit)
	}
	if cfg.SocketURL() != "wss://chat.example.com/ws/chat/" {
		t.Errorf("Unexpected socket url %q", cfg.SocketURL())
	}
}

func TestLoadClient_RejectsBadServerURL(t *testing.T) {
	t.Setenv("CHAT_CONFIG_FILE", "")
	t.Setenv("CHAT_SERVER_URL", "localhost:8000")

	if _, err := LoadClient(); err == nil {
		t.Error("Expected error for server url without scheme")
	}
}
