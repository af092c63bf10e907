package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

func testNotifier(t *testing.T) (*SlackNotifier, *int) {
	t.Helper()
	posts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1.2"}`))
	}))
	t.Cleanup(server.Close)

	n := &SlackNotifier{
		client:  slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/")),
		channel: "#sec-alerts",
	}
	return n, &posts
}

func becVerdict(level string) domain.Verdict {
	return domain.Verdict{
		MessageID: "m1",
		TenantID:  "t1",
		Sender:    "new-ceo@vendor.xyz",
		Results: []domain.AnalysisResult{{
			Analyzer: "bec_detector",
			Observations: []domain.Observation{
				domain.Text("bec_risk_level", level),
				domain.Numeric("bec_risk_score", 88),
			},
		}},
	}
}

func TestNotifyCriticalBEC_PostsForCriticalVerdict(t *testing.T) {
	n, posts := testNotifier(t)
	require.NoError(t, n.NotifyCriticalBEC(context.Background(), becVerdict("critical")))
	assert.Equal(t, 1, *posts)
}

func TestNotifyCriticalBEC_NoopBelowCritical(t *testing.T) {
	n, posts := testNotifier(t)
	for _, level := range []string{"low", "medium", "high"} {
		require.NoError(t, n.NotifyCriticalBEC(context.Background(), becVerdict(level)))
	}
	assert.Equal(t, 0, *posts)
}

func TestNotifyCriticalBEC_NoopWithoutBECResult(t *testing.T) {
	n, posts := testNotifier(t)
	require.NoError(t, n.NotifyCriticalBEC(context.Background(), domain.Verdict{MessageID: "m1"}))
	assert.Equal(t, 0, *posts)
}
