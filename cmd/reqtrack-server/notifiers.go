package main

import (
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/reqtrack/reqtrack/pkg/notify"
)

// deliverySenders builds the transports that deliver notifications. The log
// sender is used when no transport is configured. The returned cleanup
// closes any open connections.
func deliverySenders(cfg *serverConfig, logger *slog.Logger) (notify.Sender, func(), error) {
	var senders notify.MultiSender
	cleanup := func() {}

	smtpCfg := notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if smtpCfg.Enabled() {
		senders = append(senders, notify.NewSMTPSender(smtpCfg))
		logger.Info("email notifications enabled", "host", smtpCfg.Host, "port", smtpCfg.Port)
	}

	if cfg.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookHeaders))
		logger.Info("webhook notifications enabled", "url", cfg.WebhookURL)
	}

	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL, "reqtrack-server")
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				logger.Warn("failed to drain NATS connection", "error", err)
			}
		}
		senders = append(senders, notify.NewNATSSender(nc, cfg.NATSSubjectPrefix))
		logger.Info("NATS notifications enabled", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}

	if len(senders) == 0 {
		logger.Info("no notification transport configured, logging notifications")
		return notify.LogSender{Logger: logger}, cleanup, nil
	}
	return senders, cleanup, nil
}
