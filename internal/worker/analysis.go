// Package worker implements the two queue-driven processes: the analysis
// worker (emails -> verdicts) and the verdict worker (verdicts ->
// remediation). Each consumes its queue in a tight loop, matching the
// teacher's ingestion-loop shape generalised from a DB poll to a blocking
// queue pop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/analyzer"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/analyzer/bec"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/obs"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

const (
	EmailsQueue   = "emails"
	VerdictsQueue = "verdicts"
)

// AnalysisWorker consumes EmailEvents from the emails queue, runs the
// analyzer pipeline, persists the event and its results, best-effort bumps
// the BEC behavioural baselines, and publishes the resulting Verdict onto
// the verdicts queue.
type AnalysisWorker struct {
	Queue    ports.Queue
	Store    ports.Store
	Pipeline *analyzer.Pipeline
	Metrics  *obs.Metrics
	Log      *zap.SugaredLogger
	Now      func() time.Time
}

func (w *AnalysisWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Run blocks consuming the emails queue until ctx is cancelled.
func (w *AnalysisWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := w.Queue.Consume(ctx, EmailsQueue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Errorw("consume emails queue failed", "error", err)
			continue
		}

		err = w.handle(ctx, payload)
		switch {
		case err == nil:
			if ackErr := w.Queue.Ack(ctx, EmailsQueue, payload); ackErr != nil {
				w.Log.Errorw("ack email event failed", "error", ackErr)
			}
		case errors.Is(err, errMalformedPayload):
			// §7: malformed input JSON is logged and dropped, never
			// retried — ack it so it doesn't sit on the processing list.
			w.Log.Warnw("dropping malformed email event", "error", err)
			if ackErr := w.Queue.Ack(ctx, EmailsQueue, payload); ackErr != nil {
				w.Log.Errorw("ack malformed email event failed", "error", ackErr)
			}
		default:
			// Left un-acked so the queue's recovery/retry mechanism
			// redelivers it (§7: "queue publish failure — surface to
			// retry").
			w.Log.Errorw("handle email event failed", "error", err)
		}
	}
}

var errMalformedPayload = errors.New("malformed email event payload")

func (w *AnalysisWorker) handle(ctx context.Context, payload []byte) error {
	var event domain.EmailEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}

	// §5: check the dedup gate before running. A redelivered message whose
	// outcome already exists must not re-run the pipeline — the post-step
	// below would bump the monotonic behavioural counters a second time.
	processed, err := w.Store.IsMessageProcessed(ctx, event.MessageID)
	if err != nil {
		// Same degrade posture as persistence below: a DB hiccup on the
		// gate check must not block analysis.
		w.Log.Warnw("dedup gate check failed, proceeding", "message_id", event.MessageID, "error", err)
	} else if processed {
		w.Log.Debugw("message already processed, skipping analysis", "message_id", event.MessageID)
		return nil
	}

	verdict := w.Pipeline.Run(ctx, event)
	w.recordMetrics(verdict)

	// §7: DB unavailable during event/result persistence degrades to a
	// logged warning; the verdict still enqueues.
	eventID, err := w.Store.StoreEvent(ctx, event)
	if err != nil {
		w.Log.Warnw("store email event failed, proceeding without persistence", "message_id", event.MessageID, "error", err)
	} else if err := w.Store.StoreAnalysisResults(ctx, eventID, verdict.Results); err != nil {
		w.Log.Warnw("store analysis results failed, proceeding without persistence", "message_id", event.MessageID, "error", err)
	}

	if err := bec.UpdateBehaviouralProfiles(ctx, w.Store, event, verdict, w.now()); err != nil {
		w.Log.Warnw("update behavioural profiles failed", "message_id", event.MessageID, "error", err)
	}

	out, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	if err := w.Queue.Publish(ctx, VerdictsQueue, out); err != nil {
		return fmt.Errorf("publish verdict: %w", err)
	}
	return nil
}

func (w *AnalysisWorker) recordMetrics(verdict domain.Verdict) {
	if w.Metrics == nil {
		return
	}
	for _, r := range verdict.Results {
		w.Metrics.ProcessingTime.WithLabelValues(r.Analyzer).Observe(r.ProcessingTimeMS)
		if _, ok := r.Observation("error"); ok {
			w.Metrics.AnalyzerErrors.WithLabelValues(r.Analyzer).Inc()
		}
	}
}
