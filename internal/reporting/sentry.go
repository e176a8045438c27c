package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/clusterkit/segmentpool/internal/config"
	"github.com/clusterkit/segmentpool/internal/logging"
	"github.com/getsentry/sentry-go"
)

var hostRx = regexp.MustCompile(`\[:{0,2}([0-9a-f]{0,4}:?){1,8}\]:\d+`)
var tokenRx = regexp.MustCompile(`Token [0-9a-zA-Z]+`)

func sanitizeError(err string) string {
	err = hostRx.ReplaceAllString(err, "<host>")
	err = tokenRx.ReplaceAllString(err, "Token <redacted>")
	return err
}

func Report(ctx context.Context, err error, extras ...map[string]string) {
	hub := sentry.CurrentHub()
	logger := logging.FromContext(ctx)
	if hub.Client() == nil {
		logger.Warn("Sentry not initialized - not reporting error", "error", err, "extras", extras)
		return
	}

	logger.Error(
		"Reporting error to Sentry",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)

	hub.WithScope(func(scope *sentry.Scope) {
		meta := MetaFromContext(ctx)
		scope.SetTags(meta.tags)
		for key, value := range meta.extras {
			scope.SetExtra(key, value)
		}
		if !meta.startedAt.IsZero() {
			scope.SetExtra("secondsSinceStart", time.Since(meta.startedAt).Seconds())
		}

		for _, extra := range extras {
			if extra == nil {
				continue
			}
			for key, value := range extra {
				scope.SetExtra(key, value)
			}
		}

		if err == nil {
			err = errors.New("No error provided")
		}

		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}

// InitSentryOrMock initializes Sentry if a DSN is configured. In development
// we allow running without one.
func InitSentryOrMock(conf config.Config) (func(), error) {
	if conf.SentryDSN() == "" {
		if conf.IsDevelopment() {
			return func() {}, nil
		}
		return nil, fmt.Errorf("missing Sentry DSN in non-development environment")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn: conf.SentryDSN(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	flush := func() {
		sentry.Flush(5 * time.Second)
	}

	return flush, nil
}
