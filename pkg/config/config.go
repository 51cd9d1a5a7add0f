package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/resubd/resubd/pkg/subscription"
)

// Config is the root resubd configuration.
type Config struct {
	// Listen is the address the proxy listens on.
	Listen string `json:"listen" yaml:"listen"`

	// Path is the HTTP path serving the WebSocket endpoint.
	Path string `json:"path" yaml:"path"`

	// Upstream is the ws:// or wss:// URL of the GraphQL server.
	Upstream string `json:"upstream" yaml:"upstream"`

	// HandshakeTimeout bounds the WebSocket dial to the upstream.
	HandshakeTimeout Duration `json:"handshakeTimeout" yaml:"handshakeTimeout"`

	Log       LogConfig       `json:"log" yaml:"log"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`

	// Subscriptions configures which subscription types are tracked.
	Subscriptions []subscription.Descriptor `json:"subscriptions" yaml:"subscriptions"`

	// SubscriptionFiles are glob patterns (relative to the config file,
	// ** supported) of extra descriptor files merged into Subscriptions.
	SubscriptionFiles []string `json:"subscriptionFiles,omitempty" yaml:"subscriptionFiles,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is the output format: text or json.
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Path    string `json:"path" yaml:"path"`
}

// ReconnectConfig configures upstream reconnection backoff. Delays double
// per attempt from InitialDelay up to MaxDelay.
type ReconnectConfig struct {
	InitialDelay Duration `json:"initialDelay" yaml:"initialDelay"`
	MaxDelay     Duration `json:"maxDelay" yaml:"maxDelay"`

	// MaxAttempts limits consecutive failed attempts. 0 retries forever.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
}

// Default returns the configuration used when a field is left unset.
func Default() *Config {
	return &Config{
		Listen:           ":4290",
		Path:             "/graphql",
		HandshakeTimeout: Duration(10 * time.Second),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Reconnect: ReconnectConfig{
			InitialDelay: Duration(500 * time.Millisecond),
			MaxDelay:     Duration(30 * time.Second),
			MaxAttempts:  0,
		},
	}
}

// applyDefaults fills unset fields from Default.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = def.Reconnect.InitialDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = def.Reconnect.MaxDelay
	}
}

// Validate checks the configuration for problems that would prevent startup.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return fmt.Errorf("%w: upstream is required", ErrValidation)
	}
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("%w: upstream: %v", ErrValidation, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: upstream scheme must be ws or wss, got %q", ErrValidation, u.Scheme)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path must start with /, got %q", ErrValidation, c.Path)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("%w: handshakeTimeout cannot be negative", ErrValidation)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("%w: reconnect.maxAttempts cannot be negative", ErrValidation)
	}
	if c.Reconnect.InitialDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("%w: reconnect delays cannot be negative", ErrValidation)
	}
	if c.Reconnect.MaxDelay.Duration() < c.Reconnect.InitialDelay.Duration() {
		return fmt.Errorf("%w: reconnect.maxDelay is below reconnect.initialDelay", ErrValidation)
	}

	seen := make(map[string]bool, len(c.Subscriptions))
	for i := range c.Subscriptions {
		d := &c.Subscriptions[i]
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: subscriptions[%d]: %v", ErrValidation, i, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate subscription descriptor %q", ErrValidation, d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// Duration is a time.Duration that marshals/unmarshals as a string
// ("500ms", "30s"). Bare integers are taken as milliseconds.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON marshals the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON unmarshals a duration string or integer milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return d.parse(s)
}

// UnmarshalYAML unmarshals a duration string or integer milliseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		var ms int64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return d.parse(s)
}

// MarshalYAML marshals the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
