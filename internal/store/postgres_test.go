package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocorobi/cardpool/internal/dedupe"
	"github.com/cocorobi/cardpool/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func supporterColumns() []string {
	return []string{"id", "email", "name", "user_status", "csv_filename", "csv_upload_date", "csv_record_count", "csv_uploaded", "created_at", "updated_at"}
}

func ptr(s string) *string { return &s }

// anyArgs builds a WithArgs list of n wildcard matchers.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_GetSupporter_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, email, name, user_status`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)

	sp, err := s.GetSupporter(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, sp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSupporter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, email, name, user_status`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows(supporterColumns()).
			AddRow("user-1", "u@example.com", nil, model.StatusCSVUploaded, ptr("cards.csv"), &now, 42, true, now, now))

	sp, err := s.GetSupporter(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, "", sp.Name, "NULL name comes back as empty string")
	assert.Equal(t, "cards.csv", sp.CSVFilename)
	assert.Equal(t, model.StatusCSVUploaded, sp.UserStatus)
	assert.Equal(t, 42, sp.CSVRecordCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSupporter_CreatesWhenAbsent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, email, name, user_status`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO supporters`).
		WithArgs("user-1", "u@example.com", string(model.StatusEmailRegistered), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sp, err := s.EnsureSupporter(context.Background(), "user-1", "u@example.com")
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, model.StatusEmailRegistered, sp.UserStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordUpload_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE supporters`).
		WithArgs("cards.csv", pgxmock.AnyArg(), 7, string(model.StatusCSVUploaded), pgxmock.AnyArg(), "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RecordUpload(context.Background(), "user-1", UploadMeta{
		Filename:    "cards.csv",
		UploadedAt:  time.Now().UTC(),
		SharedCount: 7,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supporter not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCards_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	columns := append([]string{"id", "supporter_id"}, contactColumns...)
	columns = append(columns, "created_at", "updated_at")
	mock.ExpectCopyFrom(pgx.Identifier{"business_cards"}, columns).WillReturnResult(2)

	cards := []model.BusinessCard{
		{SupporterID: "sup-1", Contact: model.Contact{Name: "山田 太郎"}},
		{SupporterID: "sup-1", Contact: model.Contact{Email: "a@example.com"}},
	}
	err := s.InsertCards(context.Background(), cards)
	require.NoError(t, err)
	assert.NotEmpty(t, cards[0].ID, "missing IDs get assigned")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCard_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// contact columns plus updated_at and the id predicate.
	mock.ExpectExec(`UPDATE business_cards SET`).
		WithArgs(anyArgs(len(contactColumns) + 2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCard(context.Background(), &model.BusinessCard{ID: "card-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SharedExchange(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	exchanged := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(sharedPoolLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT id, name, company, email, exchanged_on FROM business_cards_shared WHERE is_active`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "company", "email", "exchanged_on"}).
			AddRow("sh-1", ptr("山田 太郎"), ptr("アクメ"), ptr("a@example.com"), &exchanged))

	sharedCols := append([]string{"id", "contributor_id", "shared_by_user_id"}, contactColumns...)
	sharedCols = append(sharedCols, "is_active", "shared_at", "created_at", "updated_at")
	mock.ExpectCopyFrom(pgx.Identifier{"business_cards_shared"}, sharedCols).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"business_card_contributors"},
		[]string{"id", "shared_card_id", "contributor_user_id", "contributor_supporter_id", "contribution_type", "contribution_data", "created_at"}).
		WillReturnResult(1)
	mock.ExpectCommit()

	err := s.SharedExchange(context.Background(), func(tx SharedTx) error {
		existing, err := tx.ListActiveShared(context.Background())
		require.NoError(t, err)
		require.Len(t, existing, 1)
		assert.Equal(t, dedupe.Existing{
			ID: "sh-1", Name: "山田 太郎", Company: "アクメ",
			Email: "a@example.com", ExchangedOn: &exchanged,
		}, existing[0])

		cards := []model.SharedCard{{ContributorID: "sup-1", SharedByUserID: "user-1"}}
		if err := tx.InsertShared(context.Background(), cards); err != nil {
			return err
		}
		return tx.InsertContributions(context.Background(), []model.Contribution{
			{SharedCardID: cards[0].ID, ContributorUserID: "user-1", Type: model.ContributionOriginal},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SharedExchange_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(sharedPoolLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err := s.SharedExchange(context.Background(), func(tx SharedTx) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountSharedCards(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT c.shared_card_id\)`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	n, err := s.CountSharedCards(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountContributorRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM business_card_contributors`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountContributorRows(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCardRawData(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT raw_data FROM business_cards WHERE supporter_id`).
		WithArgs("sup-1").
		WillReturnRows(pgxmock.NewRows([]string{"raw_data"}).
			AddRow([]byte(`{"myTags":{"展示会":"CEATEC"},"allFields":{"会社名":"アクメ"}}`)))

	rds, err := s.ListCardRawData(context.Background(), "sup-1")
	require.NoError(t, err)
	require.Len(t, rds, 1)
	assert.Equal(t, "CEATEC", rds[0].MyTags["展示会"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTagSettings(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT user_id, tag_name, allow_sales, updated_at FROM mytag_settings`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "tag_name", "allow_sales", "updated_at"}).
			AddRow("user-1", "展示会", false, now).
			AddRow("user-1", "重要顧客", true, now))

	settings, err := s.ListTagSettings(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, "展示会", settings[0].TagName)
	assert.False(t, settings[0].AllowSales)
	assert.NoError(t, mock.ExpectationsWereMet())
}
