package config

// Config is the full process configuration. It is read from an optional
// JSON or YAML file and then overridden by environment variables.
//
// All durations are Go duration strings (e.g. "500ms", "3s", "1m").
type Config struct {
	Server       ServerConfig       `json:"server"`
	Miniflux     MinifluxConfig     `json:"miniflux"`
	Discord      DiscordConfig      `json:"discord"`
	Delivery     DeliveryConfig     `json:"delivery"`
	Notification NotificationConfig `json:"notification"`
	Logging      LoggingConfig      `json:"logging"`
	Debug        DebugConfig        `json:"debug"`
}

// ServerConfig controls the inbound HTTP listener.
//
// Defaults (when fields are omitted/zero):
//   - path: "/webhook"
//   - body_limit: 1048576
//   - request_timeout: "30s"
//   - shutdown_timeout: "10s"
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Path            string `json:"path,omitempty"`
	BodyLimit       int64  `json:"body_limit,omitempty"`
	RequestTimeout  string `json:"request_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// AwaitDelivery holds the webhook response until its batches are sent.
	AwaitDelivery bool `json:"await_delivery,omitempty"`
}

type MinifluxConfig struct {
	BaseURL string `json:"base_url"`
	// PublicURL is the web UI address used in links; defaults to BaseURL.
	PublicURL     string `json:"public_url,omitempty"`
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
	Concurrency   int    `json:"concurrency,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// DeliveryConfig controls the outbound queue.
//
// min_interval "0s" (the default) sends back to back; strict also keeps the
// interval between the end of one send and the start of the next.
type DeliveryConfig struct {
	MinInterval string `json:"min_interval,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type NotificationConfig struct {
	// LinkMode is one of "unread", "feed" or "original".
	LinkMode string `json:"link_mode,omitempty"`
	// ConvertICO is a pointer so an omitted value defaults to true.
	ConvertICO *bool `json:"convert_ico,omitempty"`
	Color      int   `json:"color,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig enables the pprof listener when PprofAddr is set. A
// non-loopback address needs a token unless pprof_allow_insecure is set.
type DebugConfig struct {
	PprofAddr          string `json:"pprof_addr,omitempty"`
	PprofPrefix        string `json:"pprof_prefix,omitempty"`
	PprofToken         string `json:"pprof_token,omitempty"`
	PprofAllowInsecure bool   `json:"pprof_allow_insecure,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// ConvertICOEnabled reports the effective convert_ico setting.
func (c NotificationConfig) ConvertICOEnabled() bool {
	return c.ConvertICO == nil || *c.ConvertICO
}
