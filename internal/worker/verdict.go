package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/dispatch"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/notify"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/obs"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

// VerdictWorker consumes Verdicts from the verdicts queue, skips
// already-dispatched messages (the dedup gate), and hands everything else
// to the dispatcher.
type VerdictWorker struct {
	Queue      ports.Queue
	Store      ports.Store
	Dispatcher *dispatch.Dispatcher
	Notifier   *notify.SlackNotifier
	Metrics    *obs.Metrics
	Log        *zap.SugaredLogger
}

func (w *VerdictWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := w.Queue.Consume(ctx, VerdictsQueue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Errorw("consume verdicts queue failed", "error", err)
			continue
		}

		err = w.handle(ctx, payload)
		switch {
		case err == nil:
			if ackErr := w.Queue.Ack(ctx, VerdictsQueue, payload); ackErr != nil {
				w.Log.Errorw("ack verdict failed", "error", ackErr)
			}
		case errors.Is(err, errMalformedPayload):
			w.Log.Warnw("dropping malformed verdict", "error", err)
			if ackErr := w.Queue.Ack(ctx, VerdictsQueue, payload); ackErr != nil {
				w.Log.Errorw("ack malformed verdict failed", "error", ackErr)
			}
		default:
			w.Log.Errorw("handle verdict failed", "error", err)
		}
	}
}

func (w *VerdictWorker) handle(ctx context.Context, payload []byte) error {
	var verdict domain.Verdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}

	processed, err := w.Store.IsMessageProcessed(ctx, verdict.MessageID)
	if err != nil {
		return fmt.Errorf("check dedup gate: %w", err)
	}
	if processed {
		w.Log.Debugw("message already dispatched, skipping", "message_id", verdict.MessageID)
		return nil
	}

	if err := w.Dispatcher.Dispatch(ctx, verdict); err != nil {
		return fmt.Errorf("dispatch verdict: %w", err)
	}

	if w.Notifier != nil {
		if err := w.Notifier.NotifyCriticalBEC(ctx, verdict); err != nil {
			w.Log.Warnw("slack notification failed", "message_id", verdict.MessageID, "error", err)
		}
	}

	return nil
}
