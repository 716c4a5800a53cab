package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/session"
)

// ResetReport describes what an administrative reset removed.
type ResetReport struct {
	Queues    map[string]int64
	Sessions  int
	Responses int
}

// Reset clears the worker's queues and every session and response slot.
// It is a maintenance operation and must not run while workers are live.
func Reset(ctx context.Context, b bus.Bus, config Config, logger *zap.Logger) (*ResetReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	report := &ResetReport{Queues: make(map[string]int64)}

	queues := append([]string{config.InboundQueue, config.OutboundQueue}, config.ExtraQueues...)
	for _, queue := range queues {
		items, err := b.Len(ctx, queue)
		if err != nil {
			return report, fmt.Errorf("measure queue %s: %w", queue, err)
		}
		if _, err := b.Delete(ctx, queue); err != nil {
			return report, fmt.Errorf("clear queue %s: %w", queue, err)
		}
		report.Queues[queue] = items
		logger.Info("cleared queue", zap.String("queue", queue), zap.Int64("items", items))
	}

	var err error
	if report.Sessions, err = deleteMatching(ctx, b, session.KeyPrefix+"*", logger); err != nil {
		return report, err
	}
	if report.Responses, err = deleteMatching(ctx, b, ResponsePrefix+"*", logger); err != nil {
		return report, err
	}

	logger.Info("all queues and sessions cleared",
		zap.Int("sessions", report.Sessions),
		zap.Int("responses", report.Responses),
	)
	return report, nil
}

func deleteMatching(ctx context.Context, b bus.Bus, pattern string, logger *zap.Logger) (int, error) {
	keys, err := b.Keys(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := b.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", pattern, err)
	}

	logger.Debug("cleared keys", zap.String("pattern", pattern), zap.Int64("count", n))
	return int(n), nil
}
