package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cocorobi/cardpool/internal/dedupe"
	"github.com/cocorobi/cardpool/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for offline
// and development ingestion runs.
type SQLiteStore struct {
	db *sql.DB

	// SQLite has no advisory locks; one process mutex serializes shared
	// exchanges instead.
	sharedMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS supporters (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL,
	name             TEXT,
	user_status      TEXT NOT NULL DEFAULT 'email_registered',
	csv_filename     TEXT,
	csv_upload_date  DATETIME,
	csv_record_count INTEGER NOT NULL DEFAULT 0,
	csv_uploaded     INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS business_cards (
	id               TEXT PRIMARY KEY,
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
	raw_data         TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
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
	raw_data          TEXT,
	is_active         INTEGER NOT NULL DEFAULT 1,
	shared_at         DATETIME NOT NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shared_active ON business_cards_shared(is_active);
CREATE INDEX IF NOT EXISTS idx_shared_by_user ON business_cards_shared(shared_by_user_id);

CREATE TABLE IF NOT EXISTS business_card_contributors (
	id                       TEXT PRIMARY KEY,
	shared_card_id           TEXT NOT NULL REFERENCES business_cards_shared(id),
	contributor_user_id      TEXT NOT NULL,
	contributor_supporter_id TEXT,
	contribution_type        TEXT NOT NULL DEFAULT 'original',
	contribution_data        TEXT,
	created_at               DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contributors_user ON business_card_contributors(contributor_user_id);
CREATE INDEX IF NOT EXISTS idx_contributors_card ON business_card_contributors(shared_card_id);

CREATE TABLE IF NOT EXISTS mytag_settings (
	user_id     TEXT NOT NULL,
	tag_name    TEXT NOT NULL,
	allow_sales INTEGER NOT NULL DEFAULT 1,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (user_id, tag_name)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// contactSetSQLite renders "col = ?" assignments for every contact column.
var contactSetSQLite = func() string {
	parts := make([]string, len(contactColumns))
	for i, col := range contactColumns {
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, ", ")
}()

func (s *SQLiteStore) GetSupporter(ctx context.Context, userID string) (*model.Supporter, error) {
	var sp model.Supporter
	var name, filename *string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, user_status, csv_filename, csv_upload_date, csv_record_count, csv_uploaded, created_at, updated_at
		 FROM supporters WHERE id = ?`,
		userID,
	).Scan(
		&sp.ID, &sp.Email, &name, &sp.UserStatus, &filename, &sp.CSVUploadedAt,
		&sp.CSVRecordCount, &sp.CSVUploaded, &sp.CreatedAt, &sp.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get supporter %s", userID)
	}
	sp.Name = str(name)
	sp.CSVFilename = str(filename)
	return &sp, nil
}

func (s *SQLiteStore) EnsureSupporter(ctx context.Context, userID, email string) (*model.Supporter, error) {
	if sp, err := s.GetSupporter(ctx, userID); err != nil || sp != nil {
		return sp, err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO supporters (id, email, user_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		userID, email, string(model.StatusEmailRegistered), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert supporter %s", userID)
	}
	return &model.Supporter{
		ID:         userID,
		Email:      email,
		UserStatus: model.StatusEmailRegistered,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) RecordUpload(ctx context.Context, userID string, meta UploadMeta) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE supporters
		 SET csv_filename = ?, csv_upload_date = ?, csv_record_count = ?,
		     csv_uploaded = 1, user_status = ?, updated_at = ?
		 WHERE id = ?`,
		meta.Filename, meta.UploadedAt, meta.SharedCount,
		string(model.StatusCSVUploaded), time.Now().UTC(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record upload for %s", userID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("supporter not found: %s", userID)
	}
	return nil
}

func (s *SQLiteStore) ListCards(ctx context.Context, supporterID string) ([]model.BusinessCard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, supporter_id, `+contactColsSQL+`, created_at, updated_at
		 FROM business_cards WHERE supporter_id = ? ORDER BY created_at`,
		supporterID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cards")
	}
	defer rows.Close()

	var cards []model.BusinessCard
	for rows.Next() {
		var card model.BusinessCard
		var cs contactScan
		dests := append([]any{&card.ID, &card.SupporterID}, cs.dests()...)
		dests = append(dests, &card.CreatedAt, &card.UpdatedAt)
		if err := rows.Scan(dests...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan card")
		}
		if card.Contact, err = cs.contact(); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, eris.Wrap(rows.Err(), "sqlite: list cards iterate")
}

func (s *SQLiteStore) DeleteCards(ctx context.Context, supporterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM business_cards WHERE supporter_id = ?`, supporterID)
	return eris.Wrapf(err, "sqlite: delete cards for %s", supporterID)
}

func (s *SQLiteStore) InsertCards(ctx context.Context, cards []model.BusinessCard) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert cards")
	}
	defer tx.Rollback()

	query := `INSERT INTO business_cards (id, supporter_id, ` + contactColsSQL + `, created_at, updated_at)
	 VALUES (` + placeholders(len(contactColumns)+4) + `)`

	now := time.Now().UTC()
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
		if _, err := tx.ExecContext(ctx, query, append(row, now, now)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert card %s", card.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert cards")
}

func (s *SQLiteStore) UpdateCard(ctx context.Context, card *model.BusinessCard) error {
	args, err := contactArgs(&card.Contact)
	if err != nil {
		return err
	}
	args = append(args, time.Now().UTC(), card.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE business_cards SET `+contactSetSQLite+`, updated_at = ? WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update card %s", card.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("card not found: %s", card.ID)
	}
	return nil
}

func (s *SQLiteStore) SharedExchange(ctx context.Context, fn func(tx SharedTx) error) error {
	s.sharedMu.Lock()
	defer s.sharedMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin shared exchange")
	}
	defer tx.Rollback()

	if err := fn(&sqliteSharedTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit shared exchange")
}

type sqliteSharedTx struct {
	tx *sql.Tx
}

func (t *sqliteSharedTx) ListActiveShared(ctx context.Context) ([]dedupe.Existing, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, name, company, email, exchanged_on FROM business_cards_shared WHERE is_active = 1`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active shared")
	}
	defer rows.Close()

	var existing []dedupe.Existing
	for rows.Next() {
		var e dedupe.Existing
		var name, company, email *string
		if err := rows.Scan(&e.ID, &name, &company, &email, &e.ExchangedOn); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan shared key")
		}
		e.Name, e.Company, e.Email = str(name), str(company), str(email)
		existing = append(existing, e)
	}
	return existing, eris.Wrap(rows.Err(), "sqlite: list active shared iterate")
}

func (t *sqliteSharedTx) InsertShared(ctx context.Context, cards []model.SharedCard) error {
	query := `INSERT INTO business_cards_shared (id, contributor_id, shared_by_user_id, ` + contactColsSQL + `, is_active, shared_at, created_at, updated_at)
	 VALUES (` + placeholders(len(contactColumns)+7) + `)`

	now := time.Now().UTC()
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
		if _, err := t.tx.ExecContext(ctx, query, append(row, 1, now, now, now)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert shared card %s", card.ID)
		}
	}
	return nil
}

func (t *sqliteSharedTx) UpdateShared(ctx context.Context, card *model.SharedCard) error {
	args, err := contactArgs(&card.Contact)
	if err != nil {
		return err
	}
	args = append(args, time.Now().UTC(), card.ID)

	res, err := t.tx.ExecContext(ctx,
		`UPDATE business_cards_shared SET `+contactSetSQLite+`, updated_at = ? WHERE id = ? AND is_active = 1`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update shared card %s", card.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("shared card not found: %s", card.ID)
	}
	return nil
}

func (t *sqliteSharedTx) InsertContributions(ctx context.Context, contribs []model.Contribution) error {
	now := time.Now().UTC()
	for i := range contribs {
		c := &contribs[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		dataJSON, err := json.Marshal(c.Data)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal contribution data")
		}
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO business_card_contributors (id, shared_card_id, contributor_user_id, contributor_supporter_id, contribution_type, contribution_data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SharedCardID, c.ContributorUserID, nullif(c.ContributorSupporterID),
			string(c.Type), string(dataJSON), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert contribution for %s", c.SharedCardID)
		}
	}
	return nil
}

func (s *SQLiteStore) CountSharedCards(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT c.shared_card_id) FROM business_card_contributors c
		 JOIN business_cards_shared s ON s.id = c.shared_card_id
		 WHERE c.contributor_user_id = ? AND s.is_active = 1`,
		userID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count shared cards")
}

func (s *SQLiteStore) CountContributorRows(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM business_card_contributors WHERE contributor_user_id = ?`,
		userID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count contributor rows")
}

func (s *SQLiteStore) ListCardRawData(ctx context.Context, supporterID string) ([]model.RawData, error) {
	return s.queryRawData(ctx,
		`SELECT raw_data FROM business_cards WHERE supporter_id = ? AND raw_data IS NOT NULL`,
		supporterID,
	)
}

func (s *SQLiteStore) ListSharedRawData(ctx context.Context, userID string) ([]model.RawData, error) {
	return s.queryRawData(ctx,
		`SELECT raw_data FROM business_cards_shared WHERE shared_by_user_id = ? AND is_active = 1 AND raw_data IS NOT NULL`,
		userID,
	)
}

func (s *SQLiteStore) ListContributedRawData(ctx context.Context, userID string) ([]model.RawData, error) {
	return s.queryRawData(ctx,
		`SELECT s.raw_data FROM business_cards_shared s
		 JOIN business_card_contributors c ON c.shared_card_id = s.id
		 WHERE c.contributor_user_id = ? AND s.is_active = 1 AND s.raw_data IS NOT NULL`,
		userID,
	)
}

func (s *SQLiteStore) queryRawData(ctx context.Context, query string, args ...any) ([]model.RawData, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query raw data")
	}
	defer rows.Close()

	var out []model.RawData
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw data")
		}
		var rd model.RawData
		if err := json.Unmarshal(raw, &rd); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal raw data")
		}
		out = append(out, rd)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: raw data iterate")
}

func (s *SQLiteStore) ListTagSettings(ctx context.Context, userID string) ([]model.TagSetting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, tag_name, allow_sales, updated_at FROM mytag_settings WHERE user_id = ? ORDER BY tag_name`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tag settings")
	}
	defer rows.Close()

	var settings []model.TagSetting
	for rows.Next() {
		var ts model.TagSetting
		if err := rows.Scan(&ts.UserID, &ts.TagName, &ts.AllowSales, &ts.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tag setting")
		}
		settings = append(settings, ts)
	}
	return settings, eris.Wrap(rows.Err(), "sqlite: list tag settings iterate")
}

func (s *SQLiteStore) UpsertTagSettings(ctx context.Context, userID string, settings []model.TagSetting) error {
	if len(settings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert tag settings")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, ts := range settings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO mytag_settings (user_id, tag_name, allow_sales, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (user_id, tag_name) DO UPDATE SET allow_sales = excluded.allow_sales, updated_at = excluded.updated_at`,
			userID, ts.TagName, ts.AllowSales, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert tag setting %s", ts.TagName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert tag settings")
}
