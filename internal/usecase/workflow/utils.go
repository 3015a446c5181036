package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/errs"
)

func nowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func selfEvalCacheKey(defectID uint64, requester string) string {
	return fmt.Sprintf("self_eval:%d:%s", defectID, strings.TrimSpace(requester))
}

func (s *Service) setCacheBestEffort(ctx context.Context, key string, value string, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, key, value, ttl)
}

// notifyBestEffort dispatches to the notification collaborator. Delivery
// failures are logged and never become workflow failures.
func (s *Service) notifyBestEffort(ctx context.Context, recipient string, title string, body string) {
	if s.notifier == nil || strings.TrimSpace(recipient) == "" {
		return
	}
	if err := s.notifier.Send(ctx, recipient, title, body); err != nil {
		logging.Warn(ctx, "notification delivery failed",
			slog.String("recipient", recipient),
			slog.String("title", title),
			slog.Any("err", errs.Loggable(err)),
		)
	}
}
