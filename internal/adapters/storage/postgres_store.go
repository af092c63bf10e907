// Package storage implements ports.Store against PostgreSQL: the three
// owned tables (email_events/analysis_results/policy_outcomes) managed by
// goose migrations, plus the two BEC behavioural tables
// (sender_profiles/sender_recipient_pairs) created lazily on first use
// since they're an addition this module owns outright rather than a
// migration the teacher's schema ever anticipated.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// PostgresStore implements ports.Store for PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB

	becOnce sync.Once
	becErr  error
}

// NewPostgresStore opens and pings connStr, applying sane pool defaults for
// a multi-worker deployment.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate() error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ensureBECTables lazily creates the two behavioural-baseline tables the
// BEC analyzer needs; run once per process via sync.Once rather than as a
// goose migration, since this store is the only owner of their schema.
func (s *PostgresStore) ensureBECTables(ctx context.Context) error {
	s.becOnce.Do(func() {
		const ddl = `
		CREATE TABLE IF NOT EXISTS sender_profiles (
			tenant_id VARCHAR(128) NOT NULL,
			sender_domain VARCHAR(255) NOT NULL,
			email_count INTEGER NOT NULL DEFAULT 0,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			known_display_names JSONB NOT NULL DEFAULT '[]',
			typical_categories JSONB NOT NULL DEFAULT '{}',
			typical_send_hours JSONB NOT NULL DEFAULT '{}',
			reply_to_domains JSONB NOT NULL DEFAULT '[]',
			PRIMARY KEY (tenant_id, sender_domain)
		);

		CREATE TABLE IF NOT EXISTS sender_recipient_pairs (
			tenant_id VARCHAR(128) NOT NULL,
			sender_address VARCHAR(254) NOT NULL,
			recipient_address VARCHAR(254) NOT NULL,
			sender_domain VARCHAR(255) NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			first_contact_at TIMESTAMPTZ NOT NULL,
			last_contact_at TIMESTAMPTZ NOT NULL,
			category_distribution JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (tenant_id, sender_address, recipient_address)
		);

		CREATE INDEX IF NOT EXISTS idx_srp_domain_recipient
			ON sender_recipient_pairs(tenant_id, sender_domain, recipient_address);
		`
		_, s.becErr = s.db.ExecContext(ctx, ddl)
	})
	return s.becErr
}

// IsMessageProcessed reports whether any policy outcome exists for
// messageID.
func (s *PostgresStore) IsMessageProcessed(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM policy_outcomes WHERE message_id = $1`, messageID)
	if err != nil {
		return false, fmt.Errorf("check message processed: %w", err)
	}
	return count > 0, nil
}

// StoreEvent upserts on (tenant_id, message_id), returning the durable row
// id either way.
func (s *PostgresStore) StoreEvent(ctx context.Context, event domain.EmailEvent) (string, error) {
	recipients, err := json.Marshal(event.To)
	if err != nil {
		return "", fmt.Errorf("marshal recipients: %w", err)
	}
	attachmentNames := make([]string, len(event.Attachments))
	for i, a := range event.Attachments {
		attachmentNames[i] = a.Name
	}
	attachmentsJSON, err := json.Marshal(attachmentNames)
	if err != nil {
		return "", fmt.Errorf("marshal attachment names: %w", err)
	}
	headersJSON, err := json.Marshal(event.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	id := uuid.NewString()
	const query = `
		INSERT INTO email_events (
			id, tenant_id, message_id, user_id, sender_email, sender_name,
			recipients, subject, body_preview, has_attachments,
			attachment_names, headers, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, message_id) DO UPDATE SET message_id = EXCLUDED.message_id
		RETURNING id
	`
	var rowID string
	err = s.db.GetContext(ctx, &rowID, query,
		id, event.TenantID, event.MessageID, event.UserID,
		event.Sender.Address, event.Sender.Name, recipients,
		event.Subject, previewOf(event.Body.Content), len(event.Attachments) > 0,
		attachmentsJSON, headersJSON, event.ReceivedAt,
	)
	if err != nil {
		return "", fmt.Errorf("upsert email event: %w", err)
	}
	return rowID, nil
}

func previewOf(content string) string {
	const maxLen = 2000
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen]
}

// StoreAnalysisResults writes one row per analyzer result.
func (s *PostgresStore) StoreAnalysisResults(ctx context.Context, eventID string, results []domain.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO analysis_results (id, event_id, analyzer_name, observations, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, r := range results {
		observations, err := json.Marshal(r.Observations)
		if err != nil {
			return fmt.Errorf("marshal observations for %s: %w", r.Analyzer, err)
		}
		errMsg := errorObservationMessage(r)
		_, err = tx.ExecContext(ctx, query, uuid.NewString(), eventID, r.Analyzer,
			observations, errMsg, int(r.ProcessingTimeMS))
		if err != nil {
			return fmt.Errorf("insert analysis result for %s: %w", r.Analyzer, err)
		}
	}

	return tx.Commit()
}

func errorObservationMessage(r domain.AnalysisResult) sql.NullString {
	if o, ok := r.Observation("error"); ok {
		return sql.NullString{String: o.StringValue(), Valid: true}
	}
	return sql.NullString{}
}

// StoreOutcome upserts on (message_id, policy_name).
func (s *PostgresStore) StoreOutcome(ctx context.Context, outcome domain.PolicyOutcome) error {
	matched, err := json.Marshal(outcome.MatchedObservations)
	if err != nil {
		return fmt.Errorf("marshal matched observations: %w", err)
	}

	const query = `
		INSERT INTO policy_outcomes (id, message_id, policy_name, tenant_id, action_taken, matched_observations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id, policy_name) DO UPDATE SET
			action_taken = EXCLUDED.action_taken,
			matched_observations = EXCLUDED.matched_observations,
			created_at = EXCLUDED.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(), outcome.MessageID, outcome.PolicyName, outcome.TenantID,
		outcome.ActionTaken, matched, outcome.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert policy outcome: %w", err)
	}
	return nil
}

type senderProfileRow struct {
	TenantID          string `db:"tenant_id"`
	SenderDomain      string `db:"sender_domain"`
	EmailCount        int    `db:"email_count"`
	FirstSeenAt       time.Time `db:"first_seen_at"`
	LastSeenAt        time.Time `db:"last_seen_at"`
	KnownDisplayNames []byte `db:"known_display_names"`
	TypicalCategories []byte `db:"typical_categories"`
	TypicalSendHours  []byte `db:"typical_send_hours"`
	ReplyToDomains    []byte `db:"reply_to_domains"`
}

func (s *PostgresStore) GetSenderProfile(ctx context.Context, tenantID, senderDomain string) (*domain.SenderProfile, error) {
	if err := s.ensureBECTables(ctx); err != nil {
		return nil, err
	}

	var row senderProfileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT tenant_id, sender_domain, email_count, first_seen_at, last_seen_at,
		       known_display_names, typical_categories, typical_send_hours, reply_to_domains
		FROM sender_profiles WHERE tenant_id = $1 AND sender_domain = $2
	`, tenantID, senderDomain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sender profile: %w", err)
	}

	profile := &domain.SenderProfile{
		TenantID:     row.TenantID,
		SenderDomain: row.SenderDomain,
		EmailCount:   row.EmailCount,
		FirstSeenAt:  row.FirstSeenAt,
		LastSeenAt:   row.LastSeenAt,
	}
	_ = json.Unmarshal(row.KnownDisplayNames, &profile.KnownDisplayNames)
	_ = json.Unmarshal(row.TypicalCategories, &profile.TypicalCategories)
	_ = json.Unmarshal(row.ReplyToDomains, &profile.ReplyToDomains)

	var hourStrings map[string]int
	_ = json.Unmarshal(row.TypicalSendHours, &hourStrings)
	profile.TypicalSendHours = make(map[int]int, len(hourStrings))
	for k, v := range hourStrings {
		var hour int
		if _, err := fmt.Sscanf(k, "%d", &hour); err == nil {
			profile.TypicalSendHours[hour] = v
		}
	}

	return profile, nil
}

type pairRow struct {
	TenantID             string    `db:"tenant_id"`
	SenderAddress        string    `db:"sender_address"`
	RecipientAddress     string    `db:"recipient_address"`
	SenderDomain         string    `db:"sender_domain"`
	MessageCount         int       `db:"message_count"`
	FirstContactAt       time.Time `db:"first_contact_at"`
	LastContactAt        time.Time `db:"last_contact_at"`
	CategoryDistribution []byte    `db:"category_distribution"`
}

func (row pairRow) toDomain() *domain.SenderRecipientPair {
	pair := &domain.SenderRecipientPair{
		TenantID:         row.TenantID,
		SenderAddress:    row.SenderAddress,
		RecipientAddress: row.RecipientAddress,
		SenderDomain:     row.SenderDomain,
		MessageCount:     row.MessageCount,
		FirstContactAt:   row.FirstContactAt,
		LastContactAt:    row.LastContactAt,
	}
	_ = json.Unmarshal(row.CategoryDistribution, &pair.CategoryDistribution)
	return pair
}

func (s *PostgresStore) GetSenderRecipientPair(ctx context.Context, tenantID, sender, recipient string) (*domain.SenderRecipientPair, error) {
	if err := s.ensureBECTables(ctx); err != nil {
		return nil, err
	}

	var row pairRow
	err := s.db.GetContext(ctx, &row, `
		SELECT tenant_id, sender_address, recipient_address, sender_domain,
		       message_count, first_contact_at, last_contact_at, category_distribution
		FROM sender_recipient_pairs WHERE tenant_id = $1 AND sender_address = $2 AND recipient_address = $3
	`, tenantID, sender, recipient)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sender-recipient pair: %w", err)
	}
	return row.toDomain(), nil
}

// GetDomainPairSummary aggregates every sender address in senderDomain that
// has messaged recipient, returning nil if the aggregate total is zero.
func (s *PostgresStore) GetDomainPairSummary(ctx context.Context, tenantID, senderDomain, recipient string) (*domain.SenderRecipientPair, error) {
	if err := s.ensureBECTables(ctx); err != nil {
		return nil, err
	}

	var rows []pairRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, sender_address, recipient_address, sender_domain,
		       message_count, first_contact_at, last_contact_at, category_distribution
		FROM sender_recipient_pairs
		WHERE tenant_id = $1 AND sender_domain = $2 AND recipient_address = $3
	`, tenantID, senderDomain, recipient)
	if err != nil {
		return nil, fmt.Errorf("get domain-pair summary: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	summary := &domain.SenderRecipientPair{
		TenantID:             tenantID,
		RecipientAddress:     recipient,
		SenderDomain:         senderDomain,
		CategoryDistribution: map[string]int{},
	}
	for i, r := range rows {
		pair := r.toDomain()
		summary.MessageCount += pair.MessageCount
		for cat, n := range pair.CategoryDistribution {
			summary.CategoryDistribution[cat] += n
		}
		if i == 0 || pair.FirstContactAt.Before(summary.FirstContactAt) {
			summary.FirstContactAt = pair.FirstContactAt
		}
		if pair.LastContactAt.After(summary.LastContactAt) {
			summary.LastContactAt = pair.LastContactAt
		}
	}
	if summary.MessageCount == 0 {
		return nil, nil
	}
	return summary, nil
}

// UpsertSenderProfile bumps the profile for (tenant_id, sender_domain)
// entirely server-side: up to five statements in one transaction — insert-
// or-bump-counter-and-timestamp, then conditional-append-to-set for the
// display name and reply-to domain, then conditional-bump-sub-counter for
// the category/send-hour histograms — per §4.3/§9. No row is ever read
// into application memory and written back, so concurrent workers
// incrementing the same sender's counters never race.
func (s *PostgresStore) UpsertSenderProfile(ctx context.Context, tenantID, senderDomain, displayName, category string, sendHour int, replyToDomain string, at time.Time) error {
	if err := s.ensureBECTables(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sender_profiles (
			tenant_id, sender_domain, email_count, first_seen_at, last_seen_at,
			known_display_names, typical_categories, typical_send_hours, reply_to_domains
		) VALUES ($1, $2, 1, $3, $3, '[]'::jsonb, '{}'::jsonb, '{}'::jsonb, '[]'::jsonb)
		ON CONFLICT (tenant_id, sender_domain) DO UPDATE SET
			email_count = sender_profiles.email_count + 1,
			last_seen_at = $3
	`, tenantID, senderDomain, at)
	if err != nil {
		return fmt.Errorf("bump sender profile counters: %w", err)
	}

	if displayName != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE sender_profiles
			SET known_display_names = known_display_names || to_jsonb($3::text)
			WHERE tenant_id = $1 AND sender_domain = $2
			  AND NOT (known_display_names @> to_jsonb($3::text))
		`, tenantID, senderDomain, displayName)
		if err != nil {
			return fmt.Errorf("union display name: %w", err)
		}
	}
	if replyToDomain != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE sender_profiles
			SET reply_to_domains = reply_to_domains || to_jsonb($3::text)
			WHERE tenant_id = $1 AND sender_domain = $2
			  AND NOT (reply_to_domains @> to_jsonb($3::text))
		`, tenantID, senderDomain, replyToDomain)
		if err != nil {
			return fmt.Errorf("union reply-to domain: %w", err)
		}
	}

	if category != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE sender_profiles
			SET typical_categories = jsonb_set(
				typical_categories, ARRAY[$3],
				to_jsonb(COALESCE((typical_categories->>$3)::int, 0) + 1)
			)
			WHERE tenant_id = $1 AND sender_domain = $2
		`, tenantID, senderDomain, category)
		if err != nil {
			return fmt.Errorf("bump category counter: %w", err)
		}
	}

	hourKey := fmt.Sprintf("%d", sendHour)
	_, err = tx.ExecContext(ctx, `
		UPDATE sender_profiles
		SET typical_send_hours = jsonb_set(
			typical_send_hours, ARRAY[$3],
			to_jsonb(COALESCE((typical_send_hours->>$3)::int, 0) + 1)
		)
		WHERE tenant_id = $1 AND sender_domain = $2
	`, tenantID, senderDomain, hourKey)
	if err != nil {
		return fmt.Errorf("bump send-hour counter: %w", err)
	}

	return tx.Commit()
}

// UpsertSenderRecipientPair bumps the pair's counters and category
// distribution with the same insert-or-bump / conditional-bump shape as
// UpsertSenderProfile, entirely in SQL.
func (s *PostgresStore) UpsertSenderRecipientPair(ctx context.Context, tenantID, sender, recipient, senderDomain, category string, at time.Time) error {
	if err := s.ensureBECTables(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sender_recipient_pairs (
			tenant_id, sender_address, recipient_address, sender_domain,
			message_count, first_contact_at, last_contact_at, category_distribution
		) VALUES ($1, $2, $3, $4, 1, $5, $5, '{}'::jsonb)
		ON CONFLICT (tenant_id, sender_address, recipient_address) DO UPDATE SET
			message_count = sender_recipient_pairs.message_count + 1,
			last_contact_at = $5
	`, tenantID, sender, recipient, senderDomain, at)
	if err != nil {
		return fmt.Errorf("bump pair counters: %w", err)
	}

	if category != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE sender_recipient_pairs
			SET category_distribution = jsonb_set(
				category_distribution, ARRAY[$4],
				to_jsonb(COALESCE((category_distribution->>$4)::int, 0) + 1)
			)
			WHERE tenant_id = $1 AND sender_address = $2 AND recipient_address = $3
		`, tenantID, sender, recipient, category)
		if err != nil {
			return fmt.Errorf("bump pair category counter: %w", err)
		}
	}

	return tx.Commit()
}
