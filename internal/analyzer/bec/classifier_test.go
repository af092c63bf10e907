package bec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntentClassifier struct {
	labels []string
	scores []float64
	ok     bool
}

func (f fakeIntentClassifier) Classify(text string, candidateLabels []string) ([]string, []float64, bool) {
	return f.labels, f.scores, f.ok
}

func TestClassifyIntent_UnavailableDefaultsToInformational(t *testing.T) {
	category, confidence, topics := ClassifyIntent(NullClassifier{}, "any text")
	assert.Equal(t, "informational", category)
	assert.Equal(t, 0, confidence)
	assert.Nil(t, topics)
}

func TestClassifyIntent_PicksTopScoringLabel(t *testing.T) {
	c := fakeIntentClassifier{
		labels: CandidateLabels,
		scores: []float64{0.95, 0.10, 0.05, 0.02, 0.01, 0.01, 0.01},
		ok:     true,
	}

	category, confidence, topics := ClassifyIntent(c, "wire the funds now")
	assert.Equal(t, "urgent_action", category)
	assert.Equal(t, 95, confidence)
	require.Contains(t, topics, "urgent_action")
}

func TestClassifyIntent_TopicsIncludeEveryLabelAboveThreshold(t *testing.T) {
	c := fakeIntentClassifier{
		labels: CandidateLabels,
		scores: []float64{0.40, 0.35, 0.05, 0.02, 0.01, 0.01, 0.01},
		ok:     true,
	}

	_, _, topics := ClassifyIntent(c, "text")
	assert.ElementsMatch(t, []string{"urgent_action", "financial_request"}, topics)
}

func TestClassifyIntent_TruncatesInputTo500Chars(t *testing.T) {
	var gotText string
	c := captureClassifier{fn: func(text string, labels []string) ([]string, []float64, bool) {
		gotText = text
		return nil, nil, false
	}}

	longText := strings.Repeat("a", 1000)
	ClassifyIntent(c, longText)
	assert.Len(t, gotText, 500)
}

type captureClassifier struct {
	fn func(string, []string) ([]string, []float64, bool)
}

func (c captureClassifier) Classify(text string, candidateLabels []string) ([]string, []float64, bool) {
	return c.fn(text, candidateLabels)
}

func TestLazyClassifier_DefaultsToNullClassifierWhenBuildIsNil(t *testing.T) {
	c := LazyClassifier(nil)
	require.NotNil(t, c)
	_, _, ok := c.Classify("text", CandidateLabels)
	assert.False(t, ok)
}
