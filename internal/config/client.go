package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	ServerURL  string
	SocketPath string
	Token      string

	Reconnect ReconnectConfig

	// StreamRenderLimit is the raw reply size in bytes above which
	// in-progress replies render as plain text.
	StreamRenderLimit int
	TranscriptPath    string

	Env      string
	LogLevel string
}

// ReconnectConfig mirrors connection.ReconnectPolicy.
type ReconnectConfig struct {
	Delay       time.Duration
	MaxAttempts int
	Multiplier  float64
	MaxDelay    time.Duration
}

// clientFile is the TOML layout of CHAT_CONFIG_FILE.
type clientFile struct {
	Server struct {
		URL        string `toml:"url"`
		SocketPath string `toml:"socket_path"`
		Token      string `toml:"token"`
	} `toml:"server"`
	Reconnect struct {
		DelayMS     int     `toml:"delay_ms"`
		MaxAttempts int     `toml:"max_attempts"`
		Multiplier  float64 `toml:"multiplier"`
		MaxDelayMS  int     `toml:"max_delay_ms"`
	} `toml:"reconnect"`
	Render struct {
		StreamLimit    int    `toml:"stream_limit"`
		TranscriptPath string `toml:"transcript_path"`
	} `toml:"render"`
}

func defaultClientFile() clientFile {
	var f clientFile
	f.Server.URL = "http://localhost:8000"
	f.Server.SocketPath = "/ws/chat/"
	f.Reconnect.DelayMS = 3000
	f.Reconnect.Multiplier = 1.0
	f.Reconnect.MaxDelayMS = 30000
	f.Render.StreamLimit = 64 * 1024
	return f
}

// LoadClient reads .env, then CHAT_CONFIG_FILE when set, then the
// environment. Environment variables win over the file.
func LoadClient() (*ClientConfig, error) {
	godotenv.Load()

	file := defaultClientFile()
	if path := getEnvOrDefault("CHAT_CONFIG_FILE", ""); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
		}
	}

	cfg := &ClientConfig{
		ServerURL:  strings.TrimRight(getEnvOrDefault("CHAT_SERVER_URL", file.Server.URL), "/"),
		SocketPath: getEnvOrDefault("CHAT_SOCKET_PATH", file.Server.SocketPath),
		Token:      getEnvOrDefault("CHAT_TOKEN", file.Server.Token),
		Reconnect: ReconnectConfig{
			Delay:       time.Duration(getEnvAsIntOrDefault("CHAT_RECONNECT_DELAY_MS", file.Reconnect.DelayMS)) * time.Millisecond,
			MaxAttempts: getEnvAsIntOrDefault("CHAT_RECONNECT_MAX_ATTEMPTS", file.Reconnect.MaxAttempts),
			Multiplier:  getEnvAsFloatOrDefault("CHAT_RECONNECT_MULTIPLIER", file.Reconnect.Multiplier),
			MaxDelay:    time.Duration(getEnvAsIntOrDefault("CHAT_RECONNECT_MAX_DELAY_MS", file.Reconnect.MaxDelayMS)) * time.Millisecond,
		},
		StreamRenderLimit: getEnvAsIntOrDefault("CHAT_STREAM_RENDER_LIMIT", file.Render.StreamLimit),
		TranscriptPath:    getEnvOrDefault("CHAT_TRANSCRIPT_PATH", file.Render.TranscriptPath),
		Env:               getEnvOrDefault("ENV", "development"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid CHAT_SERVER_URL %q: want http(s)://host[:port]", c.ServerURL)
	}
	if c.Reconnect.Delay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.Reconnect.Delay)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	return nil
}

// SocketURL is the ws(s) URL of the chat socket on ServerURL.
func (c *ClientConfig) SocketURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	path := c.SocketPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}
