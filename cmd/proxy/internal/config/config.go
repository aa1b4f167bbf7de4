package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Core
	Debug   bool
	LogFile string

	// Server
	ListenHost          string
	ListenPort          string
	HealthServerEnabled bool
	HealthServerPort    string
	MaxConnections      int

	// Relay
	MaxHeaderBytes   int
	BufferSize       int
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration

	// Probe
	ProbeEnabled       bool
	ProbePath          string
	ProbeLookupURL     string
	ProbeLookupTimeout time.Duration

	// Access control
	AllowedSources string

	// Kubernetes allow-list source, enabled when AccessLabelSelector is set
	AccessLabelSelector string
	Namespace           string
	KubeConfigPath      string
	KubeContext         string

	// Redis allow-list source, enabled when RedisAddr is set
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisAllowlistKey string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	env := &envParser{}
	cfg := &Config{
		// Core
		Debug:   env.getBool("DEBUG", false),
		LogFile: os.Getenv("LOG_FILE"),

		// Server
		ListenHost:          getEnv("LISTEN_HOST", "0.0.0.0"),
		ListenPort:          getEnv("LISTEN_PORT", "9999"),
		HealthServerEnabled: env.getBool("HEALTH_SERVER_ENABLED", true),
		HealthServerPort:    getEnv("HEALTH_SERVER_PORT", "8080"),
		MaxConnections:      env.getInt("MAX_CONNECTIONS", 1024),

		// Relay
		MaxHeaderBytes:   env.getInt("MAX_HEADER_BYTES", 64<<10),
		BufferSize:       env.getInt("BUFFER_SIZE", 4096),
		ConnectTimeout:   env.getDuration("CONNECT_TIMEOUT", 10*time.Second),
		HandshakeTimeout: env.getDuration("HANDSHAKE_TIMEOUT", 30*time.Second),
		IdleTimeout:      env.getDuration("IDLE_TIMEOUT", 5*time.Minute),

		// Probe
		ProbeEnabled:       env.getBool("PROBE_ENABLED", false),
		ProbePath:          getEnv("PROBE_PATH", "/ip"),
		ProbeLookupURL:     getEnv("PROBE_LOOKUP_URL", "https://api.ipify.org?format=json"),
		ProbeLookupTimeout: env.getDuration("PROBE_LOOKUP_TIMEOUT", 5*time.Second),

		// Access control
		AllowedSources: getEnv("ALLOWED_SOURCES", "127.0.0.1,::1,localhost"),

		AccessLabelSelector: getEnv("ACCESS_LABEL_SELECTOR", ""),
		Namespace:           determineNamespace(),
		KubeConfigPath:      getEnv("KUBECONFIG", ""),
		KubeContext:         getEnv("KUBE_CONTEXT", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           env.getInt("REDIS_DB", 0),
		RedisAllowlistKey: getEnv("REDIS_ALLOWLIST_KEY", "xrelay:allowed-sources"),
	}

	// Unparsable values are reported together, not replaced by defaults
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	// LOG_FILE="" disables the file sink, so an unset variable gets the default
	if _, ok := os.LookupEnv("LOG_FILE"); !ok {
		cfg.LogFile = "relay.log"
	}

	// Validation
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListenAddr is the configured bind address in host:port form.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, c.ListenPort)
}

// validate ensures configuration is coherent
func (c *Config) validate() error {
	if err := validatePort("LISTEN_PORT", c.ListenPort); err != nil {
		return err
	}
	if c.HealthServerEnabled {
		if err := validatePort("HEALTH_SERVER_PORT", c.HealthServerPort); err != nil {
			return err
		}
	}

	positive := map[string]int{
		"MAX_CONNECTIONS":  c.MaxConnections,
		"MAX_HEADER_BYTES": c.MaxHeaderBytes,
		"BUFFER_SIZE":      c.BufferSize,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive, got %s", c.ConnectTimeout)
	}
	if c.HandshakeTimeout < 0 || c.IdleTimeout < 0 || c.ProbeLookupTimeout < 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT, IDLE_TIMEOUT and PROBE_LOOKUP_TIMEOUT must not be negative")
	}

	if c.ProbeEnabled {
		if !strings.HasPrefix(c.ProbePath, "/") || strings.ContainsAny(c.ProbePath, " \r\n") {
			return fmt.Errorf("PROBE_PATH must start with / and contain no whitespace: %q", c.ProbePath)
		}
		if c.ProbeLookupURL == "" {
			return fmt.Errorf("PROBE_LOOKUP_URL must be set when PROBE_ENABLED=true")
		}
	}

	if c.AllowedSources == "" && c.AccessLabelSelector == "" && c.RedisAddr == "" {
		return fmt.Errorf("no allow-list source configured: set ALLOWED_SOURCES, ACCESS_LABEL_SELECTOR or REDIS_ADDR")
	}

	return nil
}

func validatePort(name, value string) error {
	port, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", name, value)
	}
	if port == 0 && name != "LISTEN_PORT" {
		return fmt.Errorf("invalid %s: %q", name, value)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser reads typed variables and collects every parse failure.
type envParser struct {
	errs []error
}

func (p *envParser) invalid(key, value, want string) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %q is not %s", key, value, want))
}

func (p *envParser) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		p.invalid(key, value, "a boolean")
		return defaultValue
	}
	return boolValue
}

func (p *envParser) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		p.invalid(key, value, "an integer")
		return defaultValue
	}
	return intValue
}

func (p *envParser) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		// Bare integers are seconds
		secs, convErr := strconv.Atoi(value)
		if convErr != nil {
			p.invalid(key, value, "a duration")
			return defaultValue
		}
		return time.Duration(secs) * time.Second
	}
	return d
}

func determineNamespace() string {
	// Explicit namespace
	if ns := os.Getenv("NAMESPACE"); ns != "" {
		return ns
	}

	// Kubernetes downward API
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}

	// Read from service account (in-cluster)
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		return strings.TrimSpace(string(data))
	}

	return "default"
}
