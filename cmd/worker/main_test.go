package main

import (
	"context"
	"errors"
	"testing"

	"github.com/ghuser/toolcrib/pkg/app"
	"github.com/ghuser/toolcrib/pkg/config"
	"github.com/ghuser/toolcrib/pkg/logger"
)

func TestJob_RecoversPanics(t *testing.T) {
	ran := false
	job(context.Background(), logger.Nop(), "boom", func(context.Context) (int, error) {
		ran = true
		panic("kaboom")
	})()
	if !ran {
		t.Fatal("job did not run")
	}
}

func TestJob_PassesDeadline(t *testing.T) {
	job(context.Background(), logger.Nop(), "deadline", func(ctx context.Context) (int, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context has no deadline")
		}
		return 0, errors.New("ignored")
	})()
}

func TestCronParser_AcceptsConfiguredSpecs(t *testing.T) {
	for _, spec := range []string{"@every 5m", "@every 15m", "0 */10 * * * *", "*/5 * * * *", "@daily"} {
		if _, err := cronParser.Parse(spec); err != nil {
			t.Errorf("Parse(%q): %v", spec, err)
		}
	}
	if _, err := cronParser.Parse("every now and then"); err == nil {
		t.Error("expected error for malformed spec")
	}
}

func TestNotificationHandler_LogsWithoutWebhook(t *testing.T) {
	a := &app.Application{Config: &config.Config{}, Logger: logger.Nop()}
	h, err := notificationHandler(a)
	if err != nil {
		t.Fatal(err)
	}
	if h == nil {
		t.Fatal("nil handler")
	}
}
