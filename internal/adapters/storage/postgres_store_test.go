package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestIsMessageProcessed(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  bool
	}{
		{"outcome exists", 1, true},
		{"no outcome", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectQuery(`SELECT COUNT\(\*\) FROM policy_outcomes WHERE message_id = \$1`).
				WithArgs("m1").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))

			got, err := store.IsMessageProcessed(context.Background(), "m1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStoreEvent_UpsertReturnsRowID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO email_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-row-id"))

	event := domain.EmailEvent{
		MessageID: "m1",
		TenantID:  "t1",
		Sender:    domain.Address{Address: "alice@corp.com", Name: "Alice"},
		To:        []domain.Address{{Address: "bob@corp.com"}},
		Subject:   "hello",
	}
	id, err := store.StoreEvent(context.Background(), event)
	require.NoError(t, err)
	// On conflict the RETURNING clause hands back the pre-existing row id,
	// not the freshly generated one.
	assert.Equal(t, "existing-row-id", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAnalysisResults_OneRowPerResultInOneTx(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO analysis_results`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO analysis_results`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	results := []domain.AnalysisResult{
		{Analyzer: "header_auth", Observations: []domain.Observation{domain.PassFail("spf", "pass")}, ProcessingTimeMS: 2},
		{Analyzer: "url_check", Observations: []domain.Observation{domain.Numeric("total_url_count", 0)}, ProcessingTimeMS: 1},
	}
	err := store.StoreAnalysisResults(context.Background(), "eid-1", results)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAnalysisResults_EmptyIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.StoreAnalysisResults(context.Background(), "eid-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreOutcome_Upserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO policy_outcomes`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := domain.PolicyOutcome{
		MessageID:   "m1",
		PolicyName:  "quarantine-dmarc",
		TenantID:    "t1",
		ActionTaken: "quarantine",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.StoreOutcome(context.Background(), outcome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSenderProfile_NoRowsReturnsNil(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM sender_profiles`).
		WithArgs("t1", "vendor.xyz").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	profile, err := store.GetSenderProfile(context.Background(), "t1", "vendor.xyz")
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSenderProfile_UnpacksJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)
	firstSeen := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	lastSeen := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM sender_profiles`).
		WithArgs("t1", "vendor.xyz").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "sender_domain", "email_count", "first_seen_at", "last_seen_at",
			"known_display_names", "typical_categories", "typical_send_hours", "reply_to_domains",
		}).AddRow(
			"t1", "vendor.xyz", 42, firstSeen, lastSeen,
			[]byte(`["Pat Vendor"]`), []byte(`{"transactional":40,"informational":2}`),
			[]byte(`{"9":30,"14":12}`), []byte(`["other.example"]`),
		))

	profile, err := store.GetSenderProfile(context.Background(), "t1", "vendor.xyz")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 42, profile.EmailCount)
	assert.Equal(t, []string{"Pat Vendor"}, profile.KnownDisplayNames)
	assert.Equal(t, map[string]int{"transactional": 40, "informational": 2}, profile.TypicalCategories)
	assert.Equal(t, map[int]int{9: 30, 14: 12}, profile.TypicalSendHours)
	assert.Equal(t, []string{"other.example"}, profile.ReplyToDomains)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDomainPairSummary_AggregatesAcrossSenderAddresses(t *testing.T) {
	store, mock := newMockStore(t)
	early := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM sender_recipient_pairs`).
		WithArgs("t1", "vendor.xyz", "cfo@corp.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "sender_address", "recipient_address", "sender_domain",
			"message_count", "first_contact_at", "last_contact_at", "category_distribution",
		}).
			AddRow("t1", "a@vendor.xyz", "cfo@corp.com", "vendor.xyz", 3, late, late, []byte(`{"transactional":3}`)).
			AddRow("t1", "b@vendor.xyz", "cfo@corp.com", "vendor.xyz", 2, early, early, []byte(`{"transactional":1,"informational":1}`)))

	summary, err := store.GetDomainPairSummary(context.Background(), "t1", "vendor.xyz", "cfo@corp.com")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 5, summary.MessageCount)
	assert.Equal(t, early, summary.FirstContactAt)
	assert.Equal(t, late, summary.LastContactAt)
	assert.Equal(t, map[string]int{"transactional": 4, "informational": 1}, summary.CategoryDistribution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDomainPairSummary_NoRowsReturnsNil(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM sender_recipient_pairs`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	summary, err := store.GetDomainPairSummary(context.Background(), "t1", "vendor.xyz", "cfo@corp.com")
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestUpsertSenderProfile_StatementSequence(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET known_display_names`).
		WithArgs("t1", "vendor.xyz", "Pat Vendor").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET reply_to_domains`).
		WithArgs("t1", "vendor.xyz", "other.example").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET typical_categories`).
		WithArgs("t1", "vendor.xyz", "financial_request").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET typical_send_hours`).
		WithArgs("t1", "vendor.xyz", "14").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpsertSenderProfile(context.Background(), "t1", "vendor.xyz",
		"Pat Vendor", "financial_request", 14, "other.example", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSenderProfile_SkipsConditionalStatementsForEmptyValues(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// No display name, no reply-to, no category: only the send-hour bump
	// remains.
	mock.ExpectExec(`SET typical_send_hours`).
		WithArgs("t1", "vendor.xyz", "9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpsertSenderProfile(context.Background(), "t1", "vendor.xyz", "", "", 9, "", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSenderRecipientPair_StatementSequence(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sender_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sender_recipient_pairs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET category_distribution`).
		WithArgs("t1", "a@vendor.xyz", "cfo@corp.com", "transactional").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpsertSenderRecipientPair(context.Background(), "t1",
		"a@vendor.xyz", "cfo@corp.com", "vendor.xyz", "transactional", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
