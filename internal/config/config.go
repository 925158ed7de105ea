package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath     = "WSPROBE_CONFIG"
	DefaultConfigPath = "/etc/wsprobe/wsprobe.yaml"
)

const (
	envURL      = "WSPROBE_URL"
	envUsername = "WSPROBE_USERNAME"
	envPassword = "WSPROBE_PASSWORD"
	envAppToken = "WSPROBE_APP_TOKEN"
	envInsecure = "WSPROBE_INSECURE"

	// Names read by the tunnel server itself; accepted so one .env file can
	// configure both sides.
	envServerUser  = "BASIC_AUTH_USER"
	envServerPass  = "BASIC_AUTH_PASS"
	envServerToken = "APP_TOKEN"
)

const (
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultKeepaliveTimeout  = 10 * time.Second
	DefaultCloseTimeout      = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultFirstReplyTimeout = 5 * time.Second
	DefaultListenTimeout     = 2 * time.Second
	DefaultReadLimit         = 1 << 20
	DefaultLogFramesPerSec   = 10
	DefaultMessageType       = "ping"
	DefaultMessageData       = "test"
)

// ErrInvalid marks configuration that can never produce a usable probe.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Auth      AuthConfig      `yaml:"auth"`
	Transport TransportConfig `yaml:"transport"`
	Listen    ListenConfig    `yaml:"listen"`
	Message   MessageConfig   `yaml:"message"`
}

type EndpointConfig struct {
	URL          string            `yaml:"url"`
	ExtraHeaders map[string]string `yaml:"extra_headers"`
}

type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	AppToken string `yaml:"app_token"`
}

type TransportConfig struct {
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CAFile             string        `yaml:"ca_file"`
	ClientCertFile     string        `yaml:"client_cert_file"`
	ClientKeyFile      string        `yaml:"client_key_file"`
	AllowPlaintext     bool          `yaml:"allow_plaintext"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	KeepaliveTimeout   time.Duration `yaml:"keepalive_timeout"`
	CloseTimeout       time.Duration `yaml:"close_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	ReadLimit          int64         `yaml:"read_limit"`
}

type ListenConfig struct {
	FirstReplyTimeout time.Duration `yaml:"first_reply_timeout"`
	ListenTimeout     time.Duration `yaml:"listen_timeout"`
	LogFramesPerSec   float64       `yaml:"log_frames_per_sec"`
}

type MessageConfig struct {
	Type string `yaml:"type"`
	Data string `yaml:"data"`
}

// Default returns the configuration used when neither a file nor the
// environment supply a value.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			KeepaliveInterval: DefaultKeepaliveInterval,
			KeepaliveTimeout:  DefaultKeepaliveTimeout,
			CloseTimeout:      DefaultCloseTimeout,
			HandshakeTimeout:  DefaultHandshakeTimeout,
			ReadLimit:         DefaultReadLimit,
		},
		Listen: ListenConfig{
			FirstReplyTimeout: DefaultFirstReplyTimeout,
			ListenTimeout:     DefaultListenTimeout,
			LogFramesPerSec:   DefaultLogFramesPerSec,
		},
		Message: MessageConfig{
			Type: DefaultMessageType,
			Data: DefaultMessageData,
		},
	}
}

// Load parses the YAML file at path on top of Default.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

// Resolve loads the config file (when present) and applies environment
// overrides. A missing file is only an error when the path was chosen
// explicitly, either by flag or by WSPROBE_CONFIG.
func Resolve(ctx context.Context, path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	explicit := path != ""
	if path == "" {
		path = getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigPath
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
		cfg = Default()
	}

	if err := ApplyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(envURL)); v != "" {
		cfg.Endpoint.URL = v
	}
	if v := firstEnv(getenv, envUsername, envServerUser); v != "" {
		cfg.Auth.Username = v
	}
	if v := firstEnv(getenv, envPassword, envServerPass); v != "" {
		cfg.Auth.Password = v
	}
	if v := firstEnv(getenv, envAppToken, envServerToken); v != "" {
		cfg.Auth.AppToken = v
	}
	if v := strings.TrimSpace(getenv(envInsecure)); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", envInsecure, v, err)
		}
		cfg.Transport.InsecureSkipVerify = insecure
	}
	return nil
}

func firstEnv(getenv func(string) string, names ...string) string {
	for _, name := range names {
		if v := getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports configuration bugs before any network activity.
func (c Config) Validate() error {
	raw := strings.TrimSpace(c.Endpoint.URL)
	if raw == "" {
		return fmt.Errorf("%w: endpoint url is required", ErrInvalid)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: parse endpoint url: %v", ErrInvalid, err)
	}
	switch parsed.Scheme {
	case "wss":
	case "ws":
		if !c.Transport.AllowPlaintext {
			return fmt.Errorf("%w: endpoint url %q uses plaintext ws:// (set transport.allow_plaintext)", ErrInvalid, raw)
		}
	default:
		return fmt.Errorf("%w: endpoint url %q must use wss://", ErrInvalid, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: endpoint url %q has no host", ErrInvalid, raw)
	}
	if c.Auth.Password != "" && c.Auth.Username == "" {
		return fmt.Errorf("%w: auth password set without username", ErrInvalid)
	}
	if (c.Transport.ClientCertFile == "") != (c.Transport.ClientKeyFile == "") {
		return fmt.Errorf("%w: client_cert_file and client_key_file must be set together", ErrInvalid)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"transport.keepalive_interval", c.Transport.KeepaliveInterval},
		{"transport.keepalive_timeout", c.Transport.KeepaliveTimeout},
		{"transport.close_timeout", c.Transport.CloseTimeout},
		{"transport.handshake_timeout", c.Transport.HandshakeTimeout},
		{"listen.first_reply_timeout", c.Listen.FirstReplyTimeout},
		{"listen.listen_timeout", c.Listen.ListenTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, d.name)
		}
	}
	if c.Transport.ReadLimit < 0 {
		return fmt.Errorf("%w: transport.read_limit must not be negative", ErrInvalid)
	}
	if c.Message.Type == "" {
		return fmt.Errorf("%w: message.type is required", ErrInvalid)
	}
	return nil
}
