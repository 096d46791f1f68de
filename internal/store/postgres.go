package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cocorobi/cardpool/internal/config"
	"github.com/cocorobi/cardpool/internal/db"
	"github.com/cocorobi/cardpool/internal/dedupe"
	"github.com/cocorobi/cardpool/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// sharedPoolLockID keys the advisory lock that serializes shared-pool
// ingestion ("cardpool" as bytes).
const sharedPoolLockID int64 = 0x63617264706f6f6c

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_supporter":      getSupporterSQL,
	"count_shared_cards": countSharedCardsSQL,
	"count_contrib_rows": countContributorRowsSQL,
	"list_tag_settings":  listTagSettingsSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *config.PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS supporters (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL,
	name             TEXT,
	user_status      TEXT NOT NULL DEFAULT 'email_registered',
	csv_filename     TEXT,
	csv_upload_date  TIMESTAMPTZ,
	csv_record_count INTEGER NOT NULL DEFAULT 0,
	csv_uploaded     BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS business_cards (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	supporter_id     TEXT NOT NULL REFERENCES supporters(id),
	name             TEXT,
	company          TEXT,
	department       TEXT,
	position         TEXT,
	last_name        TEXT,
	first_name       TEXT,
	email            TEXT,
	postal_code      TEXT,
	address          TEXT,
	company_phone    TEXT,
	department_phone TEXT,
	direct_phone     TEXT,
	fax              TEXT,
	mobile           TEXT,
	url              TEXT,
	phone            TEXT,
	exchange_date    TEXT,
	exchanged_on     DATE,
	raw_data         JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_business_cards_supporter ON business_cards(supporter_id);

CREATE TABLE IF NOT EXISTS business_cards_shared (
	id                TEXT PRIMARY KEY,
	contributor_id    TEXT,
	shared_by_user_id TEXT,
	name              TEXT,
	company           TEXT,
	department        TEXT,
	position          TEXT,
	last_name         TEXT,
	first_name        TEXT,
	email             TEXT,
	postal_code       TEXT,
	address           TEXT,
	company_phone     TEXT,
	department_phone  TEXT,
	direct_phone      TEXT,
	fax               TEXT,
	mobile            TEXT,
	url               TEXT,
	phone             TEXT,
	exchange_date     TEXT,
	exchanged_on      DATE,
	raw_data          JSONB,
	is_active         BOOLEAN NOT NULL DEFAULT true,
	shared_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_shared_active ON business_cards_shared(is_active);
CREATE INDEX IF NOT EXISTS idx_shared_email ON business_cards_shared(lower(email)) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_shared_by_user ON business_cards_shared(shared_by_user_id);

CREATE TABLE IF NOT EXISTS business_card_contributors (
	id                       TEXT PRIMARY KEY,
	shared_card_id           TEXT NOT NULL REFERENCES business_cards_shared(id),
	contributor_user_id      TEXT NOT NULL,
	contributor_supporter_id TEXT,
	contribution_type        TEXT NOT NULL DEFAULT 'original',
	contribution_data        JSONB,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contributors_user ON business_card_contributors(contributor_user_id);
CREATE INDEX IF NOT EXISTS idx_contributors_card ON business_card_contributors(shared_card_id);

CREATE TABLE IF NOT EXISTS mytag_settings (
	user_id     TEXT NOT NULL,
	tag_name    TEXT NOT NULL,
	allow_sales BOOLEAN NOT NULL DEFAULT true,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, tag_name)
);
`

const (
	getSupporterSQL = `SELECT id, email, name, user_status, csv_filename, csv_upload_date, csv_record_count, csv_uploaded, created_at, updated_at FROM supporters WHERE id = $1`

	countSharedCardsSQL = `SELECT COUNT(DISTINCT c.shared_card_id) FROM business_card_contributors c
 JOIN business_cards_shared s ON s.id = c.shared_card_id
 WHERE c.contributor_user_id = $1 AND s.is_active`

	countContributorRowsSQL = `SELECT COUNT(*) FROM business_card_contributors WHERE contributor_user_id = $1`

	listTagSettingsSQL = `SELECT user_id, tag_name, allow_sales, updated_at FROM mytag_settings WHERE user_id = $1 ORDER BY tag_name`
)

// contactColsSQL is the contact column list as one SQL fragment.
var contactColsSQL = strings.Join(contactColumns, ", ")

// contactSetSQL renders "col = $n" assignments for every contact column,
// numbering placeholders from start.
func contactSetSQL(start int) string {
	parts := make([]string, len(contactColumns))
	for i, col := range contactColumns {
		parts[i] = fmt.Sprintf("%s = $%d", col, start+i)
	}
	return strings.Join(parts, ", ")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetSupporter(ctx context.Context, userID string) (*model.Supporter, error) {
	var sp model.Supporter
	var name, filename *string
	err := s.pool.QueryRow(ctx, getSupporterSQL, userID).Scan(
		&sp.ID, &sp.Email, &name, &sp.UserStatus, &filename, &sp.CSVUploadedAt,
		&sp.CSVRecordCount, &sp.CSVUploaded, &sp.CreatedAt, &sp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get supporter %s", userID)
	}
	sp.Name = str(name)
	sp.CSVFilename = str(filename)
	return &sp, nil
}

func (s *PostgresStore) EnsureSupporter(ctx context.Context, userID, email string) (*model.Supporter, error) {
	if sp, err := s.GetSupporter(ctx, userID); err != nil || sp != nil {
		return sp, err
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO supporters (id, email, user_status, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO NOTHING`,
		userID, email, string(model.StatusEmailRegistered), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert supporter %s", userID)
	}
	return &model.Supporter{
		ID:         userID,
		Email:      email,
		UserStatus: model.StatusEmailRegistered,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) RecordUpload(ctx context.Context, userID string, meta UploadMeta) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE supporters
		 SET csv_filename = $1, csv_upload_date = $2, csv_record_count = $3,
		     csv_uploaded = true, user_status = $4, updated_at = $5
		 WHERE id = $6`,
		meta.Filename, meta.UploadedAt, meta.SharedCount,
		string(model.StatusCSVUploaded), time.Now().UTC(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record upload for %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("supporter not found: %s", userID)
	}
	return nil
}

func (s *PostgresStore) ListCards(ctx context.Context, supporterID string) ([]model.BusinessCard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, supporter_id, `+contactColsSQL+`, created_at, updated_at
		 FROM business_cards WHERE supporter_id = $1 ORDER BY created_at`,
		supporterID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cards")
	}
	defer rows.Close()

	var cards []model.BusinessCard
	for rows.Next() {
		var card model.BusinessCard
		var cs contactScan
		dests := append([]any{&card.ID, &card.SupporterID}, cs.dests()...)
		dests = append(dests, &card.CreatedAt, &card.UpdatedAt)
		if err := rows.Scan(dests...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan card")
		}
		if card.Contact, err = cs.contact(); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, eris.Wrap(rows.Err(), "postgres: list cards iterate")
}

func (s *PostgresStore) DeleteCards(ctx context.Context, supporterID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM business_cards WHERE supporter_id = $1`, supporterID)
	return eris.Wrapf(err, "postgres: delete cards for %s", supporterID)
}

func (s *PostgresStore) InsertCards(ctx context.Context, cards []model.BusinessCard) error {
	columns := append([]string{"id", "supporter_id"}, contactColumns...)
	columns = append(columns, "created_at", "updated_at")

	now := time.Now().UTC()
	rows := make([][]any, 0, len(cards))
	for i := range cards {
		card := &cards[i]
		if card.ID == "" {
			card.ID = uuid.New().String()
		}
		args, err := contactArgs(&card.Contact)
		if err != nil {
			return err
		}
		row := append([]any{card.ID, card.SupporterID}, args...)
		rows = append(rows, append(row, now, now))
	}

	_, err := db.CopyFrom(ctx, s.pool, "business_cards", columns, rows)
	return err
}

func (s *PostgresStore) UpdateCard(ctx context.Context, card *model.BusinessCard) error {
	args, err := contactArgs(&card.Contact)
	if err != nil {
		return err
	}
	n := len(contactColumns)
	query := fmt.Sprintf(
		`UPDATE business_cards SET %s, updated_at = $%d WHERE id = $%d`,
		contactSetSQL(1), n+1, n+2,
	)
	args = append(args, time.Now().UTC(), card.ID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update card %s", card.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("card not found: %s", card.ID)
	}
	return nil
}

func (s *PostgresStore) SharedExchange(ctx context.Context, fn func(tx SharedTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin shared exchange")
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent ingestions: the resolver reads the pool index and
	// writes its decisions inside the same lock.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sharedPoolLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire shared pool lock")
	}

	if err := fn(&pgSharedTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit shared exchange")
}

type pgSharedTx struct {
	tx pgx.Tx
}

func (t *pgSharedTx) ListActiveShared(ctx context.Context) ([]dedupe.Existing, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, name, company, email, exchanged_on FROM business_cards_shared WHERE is_active`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active shared")
	}
	defer rows.Close()

	var existing []dedupe.Existing
	for rows.Next() {
		var e dedupe.Existing
		var name, company, email *string
		if err := rows.Scan(&e.ID, &name, &company, &email, &e.ExchangedOn); err != nil {
			return nil, eris.Wrap(err, "postgres: scan shared key")
		}
		e.Name, e.Company, e.Email = str(name), str(company), str(email)
		existing = append(existing, e)
	}
	return existing, eris.Wrap(rows.Err(), "postgres: list active shared iterate")
}

func (t *pgSharedTx) InsertShared(ctx context.Context, cards []model.SharedCard) error {
	columns := append([]string{"id", "contributor_id", "shared_by_user_id"}, contactColumns...)
	columns = append(columns, "is_active", "shared_at", "created_at", "updated_at")

	now := time.Now().UTC()
	rows := make([][]any, 0, len(cards))
	for i := range cards {
		card := &cards[i]
		if card.ID == "" {
			card.ID = uuid.New().String()
		}
		args, err := contactArgs(&card.Contact)
		if err != nil {
			return err
		}
		row := append([]any{card.ID, nullif(card.ContributorID), nullif(card.SharedByUserID)}, args...)
		rows = append(rows, append(row, true, now, now, now))
	}

	_, err := db.CopyFrom(ctx, t.tx, "business_cards_shared", columns, rows)
	return err
}

func (t *pgSharedTx) UpdateShared(ctx context.Context, card *model.SharedCard) error {
	args, err := contactArgs(&card.Contact)
	if err != nil {
		return err
	}
	n := len(contactColumns)
	query := fmt.Sprintf(
		`UPDATE business_cards_shared SET %s, updated_at = $%d WHERE id = $%d AND is_active`,
		contactSetSQL(1), n+1, n+2,
	)
	args = append(args, time.Now().UTC(), card.ID)

	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update shared card %s", card.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("shared card not found: %s", card.ID)
	}
	return nil
}

func (t *pgSharedTx) InsertContributions(ctx context.Context, contribs []model.Contribution) error {
	columns := []string{"id", "shared_card_id", "contributor_user_id", "contributor_supporter_id", "contribution_type", "contribution_data", "created_at"}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(contribs))
	for i := range contribs {
		c := &contribs[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		dataJSON, err := json.Marshal(c.Data)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal contribution data")
		}
		rows = append(rows, []any{
			c.ID, c.SharedCardID, c.ContributorUserID, nullif(c.ContributorSupporterID),
			string(c.Type), dataJSON, now,
		})
	}

	_, err := db.CopyFrom(ctx, t.tx, "business_card_contributors", columns, rows)
	return err
}

func (s *PostgresStore) CountSharedCards(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, countSharedCardsSQL, userID).Scan(&count)
	return count, eris.Wrap(err, "postgres: count shared cards")
}

func (s *PostgresStore) CountContributorRows(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, countContributorRowsSQL, userID).Scan(&count)
	return count, eris.Wrap(err, "postgres: count contributor rows")
}

func (s *PostgresStore) ListCardRawData(ctx context.Context, supporterID string) ([]model.RawData, error) {
	return s.queryRawData(ctx,
		`SELECT raw_data FROM business_cards WHERE supporter_id = $1 AND raw_data IS NOT NULL`,
		supporterID,
	)
}

func (s *PostgresStore) ListSharedRawData(ctx context.Context, userID string) ([]model.RawData, error) {
	return s.queryRawData(ctx,
		`SELECT raw_data FROM business_cards_shared WHERE shared_by_user_id = $1 AND is_active AND raw_data IS NOT NULL`,
		userID,
	)
}

func (s *PostgresStore) ListContributedRawData(ctx context.Context, userID string) ([]model.RawData, error) {
	return s.queryRawData(ctx,
		`SELECT s.raw_data FROM business_cards_shared s
		 JOIN business_card_contributors c ON c.shared_card_id = s.id
		 WHERE c.contributor_user_id = $1 AND s.is_active AND s.raw_data IS NOT NULL`,
		userID,
	)
}

func (s *PostgresStore) queryRawData(ctx context.Context, query string, args ...any) ([]model.RawData, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query raw data")
	}
	defer rows.Close()

	var out []model.RawData
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw data")
		}
		var rd model.RawData
		if err := json.Unmarshal(raw, &rd); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal raw data")
		}
		out = append(out, rd)
	}
	return out, eris.Wrap(rows.Err(), "postgres: raw data iterate")
}

func (s *PostgresStore) ListTagSettings(ctx context.Context, userID string) ([]model.TagSetting, error) {
	rows, err := s.pool.Query(ctx, listTagSettingsSQL, userID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tag settings")
	}
	defer rows.Close()

	var settings []model.TagSetting
	for rows.Next() {
		var ts model.TagSetting
		if err := rows.Scan(&ts.UserID, &ts.TagName, &ts.AllowSales, &ts.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tag setting")
		}
		settings = append(settings, ts)
	}
	return settings, eris.Wrap(rows.Err(), "postgres: list tag settings iterate")
}

func (s *PostgresStore) UpsertTagSettings(ctx context.Context, userID string, settings []model.TagSetting) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(settings))
	for _, ts := range settings {
		rows = append(rows, []any{userID, ts.TagName, ts.AllowSales, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "mytag_settings",
		Columns:      []string{"user_id", "tag_name", "allow_sales", "updated_at"},
		ConflictKeys: []string{"user_id", "tag_name"},
	}, rows)
	return err
}
