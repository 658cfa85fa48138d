package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/ghuser/toolcrib/pkg/config"
)

// ErrorKindTag is the Sentry tag carrying the machine-readable error kind.
const ErrorKindTag = "error_kind"

// KindFunc names the kind of an error, e.g. "InsufficientStock".
type KindFunc func(error) string

// SetupSentry initializes the Sentry SDK. No-ops if DSN is empty.
// Events are tagged with the service name and, when kindOf is non-nil, with
// the kind of the captured error.
func SetupSentry(cfg *config.Config, kindOf KindFunc) error {
	if cfg.SentryDSN == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          cfg.ServiceName + "@" + cfg.ServiceVersion,
		ServerName:       cfg.ServiceName,
		TracesSampleRate: cfg.TraceSampleRatio,
		BeforeSend:       beforeSend(cfg.ServiceName, kindOf),
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	return nil
}

// beforeSend drops events for cancelled work and tags the rest.
func beforeSend(service string, kindOf KindFunc) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	return func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
		var err error
		if hint != nil {
			err = hint.OriginalException
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if event.Tags == nil {
			event.Tags = map[string]string{}
		}
		event.Tags["service"] = service
		if err != nil && kindOf != nil {
			event.Tags[ErrorKindTag] = kindOf(err)
		}
		return event
	}
}

// CaptureError reports err on the hub bound to ctx, or the global hub.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}

// SentryFlush flushes buffered events before process exit.
func SentryFlush() {
	sentry.Flush(2 * time.Second)
}

// SentryMiddleware returns a net/http middleware that captures panics and errors.
// Repanic: true so the outer Recovery middleware still handles the 500 response.
func SentryMiddleware() func(http.Handler) http.Handler {
	h := sentryhttp.New(sentryhttp.Options{Repanic: true})
	return h.Handle
}
