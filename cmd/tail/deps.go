package main

import (
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/alerting"
	"github.com/imrishuroy/go-beer-pipeline/internal/config"
)

const cooldownKeyPrefix = "beerpipe:alerts:"

// newCooldownStore shares cooldown state through Redis when an address is
// configured; otherwise state lives only as long as the warm process.
func newCooldownStore(cfg config.AlertsConfig, log *zerolog.Logger) (alerting.CooldownStore, func()) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("alerts.redis_addr is empty; cooldown state is per-process")
		return alerting.NewMemoryCooldownStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return alerting.NewRedisCooldownStore(client, cooldownKeyPrefix), func() { _ = client.Close() }
}

func newNotifier(cfg config.AlertsConfig, log *zerolog.Logger) alerting.Notifier {
	if cfg.WebhookURL == "" {
		return alerting.NewLogNotifier(log)
	}
	return alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout)
}
