package app

import (
	"github.com/gorilla/sessions"

	"github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/pkg/config"
	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/pkg/events"
	"github.com/ghuser/toolcrib/pkg/logger"
)

// Application holds shared infrastructure dependencies for all services.
// Pass to every service's Routes call during server initialization.
//
// Logging: app.Logger is backed by a trace-aware handler; use slog's context methods
// and trace_id, span_id, and request_id are injected automatically:
//
//	app.Logger.InfoContext(ctx, "equipment borrowed", "usage_id", id)
//	app.Logger.ErrorContext(ctx, "failed to save", "error", err)
//
// Use app.Logger.Info/Error (no context) only for startup and shutdown messages.
//
// Redis may be nil, in which case caches and idempotency keys are disabled
// and every read goes to Postgres.
type Application struct {
	Config       *config.Config
	Db           *database.Database
	Logger       logger.Logger
	EventBus     *events.EventBus
	Redis        *cache.RedisClient
	SessionStore sessions.Store // Redis-backed session store; nil in worker process
}
