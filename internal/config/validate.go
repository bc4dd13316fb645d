package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrConfiguration marks a configuration that cannot be used to start.
var ErrConfiguration = errors.New("configuration error")

// Error lists every missing key and invalid value found by Validate.
type Error struct {
	Missing  []string
	Problems []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool { return target == ErrConfiguration }

// Validate checks required settings and value formats. Missing keys are
// reported by the environment variable that sets them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &Error{Problems: []string{"config is nil"}}
	}
	e := &Error{}

	required := []struct {
		key string
		val string
	}{
		{EnvDiscordWebhookURL, cfg.Discord.WebhookURL},
		{EnvMinifluxAPIKey, cfg.Miniflux.APIKey},
		{EnvMinifluxWebhookSecret, cfg.Miniflux.WebhookSecret},
		{EnvMinifluxBaseURL, cfg.Miniflux.BaseURL},
		{EnvListenHost, cfg.Server.Host},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			e.Missing = append(e.Missing, r.key)
		}
	}
	if cfg.Server.Port == 0 {
		e.Missing = append(e.Missing, EnvListenPort)
	} else if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		e.Problems = append(e.Problems, fmt.Sprintf("server.port: %d out of range", cfg.Server.Port))
	}

	for _, u := range []struct{ path, raw string }{
		{"miniflux.base_url", cfg.Miniflux.BaseURL},
		{"miniflux.public_url", cfg.Miniflux.PublicURL},
		{"discord.webhook_url", cfg.Discord.WebhookURL},
	} {
		if err := checkURL(u.path, u.raw); err != nil {
			e.Problems = append(e.Problems, err.Error())
		}
	}

	for _, d := range []struct{ path, raw string }{
		{"server.request_timeout", cfg.Server.RequestTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
		{"miniflux.timeout", cfg.Miniflux.Timeout},
		{"discord.timeout", cfg.Discord.Timeout},
		{"delivery.min_interval", cfg.Delivery.MinInterval},
		{"delivery.send_timeout", cfg.Delivery.SendTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			e.Problems = append(e.Problems, err.Error())
		}
	}

	switch strings.TrimSpace(cfg.Notification.LinkMode) {
	case "", "unread", "feed", "original":
	default:
		e.Problems = append(e.Problems, fmt.Sprintf("notification.link_mode: unknown mode %q", cfg.Notification.LinkMode))
	}
	if cfg.Delivery.QueueSize < 0 {
		e.Problems = append(e.Problems, "delivery.queue_size: must be >= 0")
	}
	if cfg.Miniflux.Concurrency < 0 {
		e.Problems = append(e.Problems, "miniflux.concurrency: must be >= 0")
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		e.Problems = append(e.Problems, "logging.file.path: required when file logging is enabled")
	}
	if addr := strings.TrimSpace(cfg.Debug.PprofAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			e.Problems = append(e.Problems, fmt.Sprintf("debug.pprof_addr: %v", err))
		}
	}

	if len(e.Missing) == 0 && len(e.Problems) == 0 {
		return nil
	}
	return e
}

func checkURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: must be an absolute URL", path)
	}
	return nil
}
