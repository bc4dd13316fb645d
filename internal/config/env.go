package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables. The first six are required unless the config file
// already sets them.
const (
	EnvDiscordWebhookURL     = "DISCORD_WEBHOOK_URL"
	EnvMinifluxAPIKey        = "MINIFLUX_API_KEY"
	EnvMinifluxWebhookSecret = "MINIFLUX_WEBHOOK_SECRET"
	EnvMinifluxBaseURL       = "MINIFLUX_BASE_URL"
	EnvListenHost            = "LISTEN_HOST"
	EnvListenPort            = "LISTEN_PORT"

	EnvMinifluxPublicURL   = "MINIFLUX_PUBLIC_URL"
	EnvLogLevel            = "LOG_LEVEL"
	EnvDeliveryMinInterval = "DELIVERY_MIN_INTERVAL"
	EnvDeliveryStrict      = "DELIVERY_STRICT"
	EnvNotifyLinkMode      = "NOTIFY_LINK_MODE"
	EnvNotifyConvertICO    = "NOTIFY_CONVERT_ICO"
	EnvPprofAddr           = "PPROF_ADDR"
	EnvPprofToken          = "PPROF_TOKEN"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is an error only
// when required is set.
func LoadEnvFile(path string, required bool) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays set, non-empty environment variables onto cfg.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	strs := []struct {
		key string
		dst *string
	}{
		{EnvDiscordWebhookURL, &cfg.Discord.WebhookURL},
		{EnvMinifluxAPIKey, &cfg.Miniflux.APIKey},
		{EnvMinifluxWebhookSecret, &cfg.Miniflux.WebhookSecret},
		{EnvMinifluxBaseURL, &cfg.Miniflux.BaseURL},
		{EnvListenHost, &cfg.Server.Host},
		{EnvMinifluxPublicURL, &cfg.Miniflux.PublicURL},
		{EnvLogLevel, &cfg.Logging.Level},
		{EnvDeliveryMinInterval, &cfg.Delivery.MinInterval},
		{EnvNotifyLinkMode, &cfg.Notification.LinkMode},
		{EnvPprofAddr, &cfg.Debug.PprofAddr},
		{EnvPprofToken, &cfg.Debug.PprofToken},
	}
	for _, s := range strs {
		if v, ok := get(s.key); ok {
			*s.dst = v
		}
	}

	var errs []error
	if v, ok := get(EnvListenPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid port %q", EnvListenPort, v))
		} else {
			cfg.Server.Port = port
		}
	}
	if v, ok := get(EnvDeliveryStrict); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", EnvDeliveryStrict, v))
		} else {
			cfg.Delivery.Strict = b
		}
	}
	if v, ok := get(EnvNotifyConvertICO); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", EnvNotifyConvertICO, v))
		} else {
			cfg.Notification.ConvertICO = &b
		}
	}
	return errors.Join(errs...)
}
