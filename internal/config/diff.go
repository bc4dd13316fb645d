package config

import (
	"strings"

	logx "fluxhook/pkg/logx"
)

// Sections that take effect without a restart.
var liveSections = map[string]bool{
	"logging":  true,
	"delivery": true,
}

// SummarizeConfigChange returns the changed top-level sections, fields that
// are safe to log (secrets only ever appear as "<name>_set" booleans), and
// the subset of changed sections that need a restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !liveSections[section] {
			restart = append(restart, section)
		}
	}

	o, n := oldCfg.Server, newCfg.Server
	if o != n {
		mark("server",
			logx.String("server.host", n.Host),
			logx.Int("server.port", n.Port),
			logx.String("server.path", n.Path),
			logx.Bool("server.await_delivery", n.AwaitDelivery),
		)
	}

	om, nm := oldCfg.Miniflux, newCfg.Miniflux
	if om.BaseURL != nm.BaseURL || om.PublicURL != nm.PublicURL || om.Concurrency != nm.Concurrency ||
		om.Timeout != nm.Timeout || om.APIKey != nm.APIKey || om.WebhookSecret != nm.WebhookSecret {
		mark("miniflux",
			logx.String("miniflux.base_url", nm.BaseURL),
			logx.String("miniflux.public_url", nm.PublicURL),
			logx.Int("miniflux.concurrency", nm.Concurrency),
			logx.Bool("miniflux.api_key_set", strings.TrimSpace(nm.APIKey) != ""),
			logx.Bool("miniflux.api_key_changed", om.APIKey != nm.APIKey),
			logx.Bool("miniflux.webhook_secret_changed", om.WebhookSecret != nm.WebhookSecret),
		)
	}

	// The webhook URL embeds a token, so it is never logged.
	od, nd := oldCfg.Discord, newCfg.Discord
	if od != nd {
		mark("discord",
			logx.Bool("discord.webhook_url_changed", od.WebhookURL != nd.WebhookURL),
			logx.String("discord.username", nd.Username),
			logx.String("discord.timeout", nd.Timeout),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		nv := newCfg.Delivery
		mark("delivery",
			logx.String("delivery.min_interval", nv.MinInterval),
			logx.Bool("delivery.strict", nv.Strict),
			logx.Int("delivery.queue_size", nv.QueueSize),
			logx.String("delivery.send_timeout", nv.SendTimeout),
		)
		if oldCfg.Delivery.QueueSize != nv.QueueSize {
			restart = append(restart, "delivery.queue_size")
		}
	}

	on, nn := oldCfg.Notification, newCfg.Notification
	if on.LinkMode != nn.LinkMode || on.Color != nn.Color || on.ConvertICOEnabled() != nn.ConvertICOEnabled() {
		mark("notification",
			logx.String("notification.link_mode", nn.LinkMode),
			logx.Bool("notification.convert_ico", nn.ConvertICOEnabled()),
			logx.Int("notification.color", nn.Color),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		mark("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
		)
	}
	odbg, ndbg := oldCfg.Debug, newCfg.Debug
	if odbg != ndbg {
		mark("debug",
			logx.String("debug.pprof_addr", ndbg.PprofAddr),
			logx.Bool("debug.pprof_token_set", strings.TrimSpace(ndbg.PprofToken) != ""),
		)
	}
	return changed, attrs, restart
}
