package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bridge.
type Config struct {
	OPC       OPCConfig       `yaml:"opc"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

type OPCConfig struct {
	ServerURL   string        `yaml:"server_url" env:"OPC_SERVER_URL"`
	MonitorNode string        `yaml:"monitor_node" env:"OPC_MONITOR_NODE"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"OPC_RETRY_DELAY"`
}

// UnmarshalYAML fills in only the fields present in the document, so file
// values layer over Defaults. It exists because yaml does not decode into
// time.Duration natively; retry_delay accepts a duration string ("5s") or a
// bare number of seconds.
func (o *OPCConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ServerURL   string `yaml:"server_url"`
		MonitorNode string `yaml:"monitor_node"`
		RetryDelay  any    `yaml:"retry_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.ServerURL != "" {
		o.ServerURL = raw.ServerURL
	}
	if raw.MonitorNode != "" {
		o.MonitorNode = raw.MonitorNode
	}

	switch d := raw.RetryDelay.(type) {
	case nil:
	case int:
		o.RetryDelay = time.Duration(d) * time.Second
	case string:
		parsed, err := parseDelay(d)
		if err != nil {
			return fmt.Errorf("opc.retry_delay: %w", err)
		}
		o.RetryDelay = parsed
	default:
		return fmt.Errorf("opc.retry_delay: unsupported value %v", raw.RetryDelay)
	}

	return nil
}

// parseDelay accepts Go duration strings ("5s") and bare integers
// interpreted as seconds.
func parseDelay(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", v, err)
	}
	return d, nil
}

type WebSocketConfig struct {
	Host string `yaml:"host" env:"WS_HOST"`
	Port int    `yaml:"port" env:"WS_PORT"`
}

type LogConfig struct {
	Verbose bool `yaml:"verbose" env:"OPCBRIDGE_VERBOSE"`
}

// Defaults returns a Config with sensible default values. The upstream
// server URL and monitored node have no defaults and must be provided.
func Defaults() *Config {
	return &Config{
		OPC: OPCConfig{
			RetryDelay: 5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
	}
}

// Validate checks that the configuration is complete and coherent. It runs
// after every source, including command-line flags, has been applied.
func (c *Config) Validate() error {
	if c.OPC.ServerURL == "" {
		return fmt.Errorf("opc.server_url is required")
	}
	u, err := url.Parse(c.OPC.ServerURL)
	if err != nil {
		return fmt.Errorf("opc.server_url: %w", err)
	}
	if u.Scheme != "opc.tcp" {
		return fmt.Errorf("opc.server_url scheme must be opc.tcp, got %q", u.Scheme)
	}

	if c.OPC.MonitorNode == "" {
		return fmt.Errorf("opc.monitor_node is required")
	}

	if c.OPC.RetryDelay <= 0 {
		return fmt.Errorf("opc.retry_delay must be positive, got %s", c.OPC.RetryDelay)
	}

	if c.WebSocket.Port < 1 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port must be between 1 and 65535, got %d", c.WebSocket.Port)
	}

	return nil
}
