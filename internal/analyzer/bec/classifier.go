package bec

import (
	"math"
	"sync"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

// NullClassifier always reports unavailable, matching the source's
// "classifier unavailable" default of informational/confidence 0. A real
// zero-shot model is wired in behind ports.Classifier outside this
// module's scope — model loading glue is explicitly out of scope (§1).
type NullClassifier struct{}

func (NullClassifier) Classify(text string, candidateLabels []string) ([]string, []float64, bool) {
	return nil, nil, false
}

var (
	lazyOnce       sync.Once
	lazyClassifier ports.Classifier
)

// LazyClassifier returns the process-wide classifier singleton, building it
// on first use. Per §9/§5: a lazy singleton guarded by one-shot
// initialisation, read-only and safe for concurrent calls after init.
func LazyClassifier(build func() ports.Classifier) ports.Classifier {
	lazyOnce.Do(func() {
		if build != nil {
			lazyClassifier = build()
		}
		if lazyClassifier == nil {
			lazyClassifier = NullClassifier{}
		}
	})
	return lazyClassifier
}

const topicThreshold = 0.30

// ClassifyIntent runs the first 500 chars of text through the classifier
// with multi-label hypotheses, returning the top-scoring category, its
// confidence (0-100), and every label scoring above 0.30 as topics
// detected.
func ClassifyIntent(c ports.Classifier, text string) (category string, confidence int, topics []string) {
	if len(text) > 500 {
		text = text[:500]
	}

	labels, scores, ok := c.Classify(text, CandidateLabels)
	if !ok || len(labels) == 0 {
		return "informational", 0, nil
	}

	topScore := -1.0
	topLabel := ""
	for i, label := range labels {
		if scores[i] > topScore {
			topScore = scores[i]
			topLabel = label
		}
		if scores[i] > topicThreshold {
			topics = append(topics, categoryForLabel(label))
		}
	}

	return categoryForLabel(topLabel), int(math.Round(topScore * 100)), topics
}

func categoryForLabel(label string) string {
	for i, l := range CandidateLabels {
		if l == label {
			return IntentCategories[i]
		}
	}
	return "informational"
}
