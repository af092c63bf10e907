// Package analyzer holds the compile-time analyzer registry and pipeline
// runner. In place of the source's pkgutil/importlib reflection-based
// auto-discovery, each analyzer registers itself into a package-level slice
// during init(); the pipeline reads the slice sorted by (order, name).
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// Analyzer is the contract every registered analyzer must satisfy.
type Analyzer interface {
	Name() string
	Order() int
	Analyze(ctx context.Context, event domain.EmailEvent) ([]domain.Observation, error)
}

var registry []Analyzer

// Register adds an analyzer to the compile-time registry. Called from each
// analyzer's init().
func Register(a Analyzer) {
	registry = append(registry, a)
}

// ReplaceByName swaps the registered analyzer with the given name for a
// fully-wired replacement; used at startup once the real
// store/cache/classifier adapters exist, since analyzers register
// zero-value singletons from their own init() before any adapter is
// constructed.
func ReplaceByName(name string, a Analyzer) {
	for i, existing := range registry {
		if existing.Name() == name {
			registry[i] = a
			return
		}
	}
	registry = append(registry, a)
}

// Get returns the currently registered analyzer with the given name, or nil
// if none is registered. Used at startup to pull the zero-value singleton
// back out of the registry before wrapping it with a real adapter via
// ReplaceByName.
func Get(name string) Analyzer {
	for _, existing := range registry {
		if existing.Name() == name {
			return existing
		}
	}
	return nil
}

// Sorted returns the registered analyzers ordered by (order, name), the
// deterministic run order the pipeline and the testable-properties
// invariant ("every registered analyzer has an entry in results") depend
// on.
func Sorted() []Analyzer {
	out := make([]Analyzer, len(registry))
	copy(out, registry)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order() != out[j].Order() {
			return out[i].Order() < out[j].Order()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Pipeline runs every registered analyzer against an event and collects a
// Verdict.
type Pipeline struct {
	log *zap.SugaredLogger
}

func NewPipeline(log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{log: log}
}

// Run executes every registered analyzer in (order, name) sequence. An
// analyzer that returns an error, or panics, yields an AnalysisResult
// containing a single `error` observation instead of aborting the rest of
// the pipeline — one broken analyzer must never take down the others.
func (p *Pipeline) Run(ctx context.Context, event domain.EmailEvent) domain.Verdict {
	analyzers := Sorted()
	results := make([]domain.AnalysisResult, 0, len(analyzers))

	for _, a := range analyzers {
		results = append(results, p.runOne(ctx, a, event))
	}

	return domain.Verdict{
		MessageID:   event.MessageID,
		TenantID:    event.TenantID,
		TenantAlias: event.TenantAlias,
		UserID:      event.UserID,
		Sender:      event.Sender.Address,
		Recipients:  event.Recipients(),
		Results:     results,
	}
}

func (p *Pipeline) runOne(ctx context.Context, a Analyzer, event domain.EmailEvent) (result domain.AnalysisResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("analyzer panicked", "analyzer", a.Name(), "panic", r)
			result = errorResult(a.Name(), fmt.Errorf("panic: %v", r), start)
		}
	}()

	obs, err := a.Analyze(ctx, event)
	if err != nil {
		p.log.Warnw("analyzer failed", "analyzer", a.Name(), "error", err)
		return errorResult(a.Name(), err, start)
	}

	return domain.AnalysisResult{
		Analyzer:         a.Name(),
		Observations:     obs,
		ProcessingTimeMS: elapsedMS(start),
	}
}

func errorResult(name string, err error, start time.Time) domain.AnalysisResult {
	return domain.AnalysisResult{
		Analyzer:         name,
		Observations:     []domain.Observation{domain.Text("error", err.Error())},
		ProcessingTimeMS: elapsedMS(start),
	}
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
