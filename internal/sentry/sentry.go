package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/quickpoll/backend/internal/config"
)

// FlushTimeout bounds how long shutdown waits for buffered events.
const FlushTimeout = 2 * time.Second

// Init configures the global Sentry client. It reports whether reporting is
// enabled; an empty DSN disables it without error.
func Init(cfg *config.Config) (bool, error) {
	if cfg.SentryDSN == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:                   cfg.SentryDSN,
		Environment:           cfg.SentryEnvironment,
		Release:               "quickpoll@" + cfg.Version,
		SendDefaultPII:        false,
		AttachStacktrace:      true,
		BeforeSend:            ScrubEvent,
		BeforeSendTransaction: ScrubTransaction,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
