package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocorobi/cardpool/internal/auth"
	"github.com/cocorobi/cardpool/internal/config"
	"github.com/cocorobi/cardpool/internal/dedupe"
	"github.com/cocorobi/cardpool/internal/model"
	"github.com/cocorobi/cardpool/internal/store"
)

// fakeStore records every mutation the pipeline performs.
type fakeStore struct {
	cards  []model.BusinessCard
	shared []dedupe.Existing

	insertBatches [][]model.BusinessCard
	cardUpdates   []model.BusinessCard
	deleted       bool

	sharedInserts [][]model.SharedCard
	sharedUpdates []model.SharedCard
	contribs      []model.Contribution
	contribErr    error

	upload *store.UploadMeta

	sharedCount    int
	sharedCountErr error
	contribRows    int

	rawCards       []model.RawData
	rawShared      []model.RawData
	rawContributed []model.RawData
}

func (f *fakeStore) GetSupporter(ctx context.Context, userID string) (*model.Supporter, error) {
	return &model.Supporter{ID: userID}, nil
}

func (f *fakeStore) EnsureSupporter(ctx context.Context, userID, email string) (*model.Supporter, error) {
	return &model.Supporter{ID: userID, Email: email}, nil
}

func (f *fakeStore) RecordUpload(ctx context.Context, userID string, meta store.UploadMeta) error {
	f.upload = &meta
	return nil
}

func (f *fakeStore) ListCards(ctx context.Context, supporterID string) ([]model.BusinessCard, error) {
	return f.cards, nil
}

func (f *fakeStore) DeleteCards(ctx context.Context, supporterID string) error {
	f.deleted = true
	return nil
}

func (f *fakeStore) InsertCards(ctx context.Context, cards []model.BusinessCard) error {
	batch := make([]model.BusinessCard, len(cards))
	copy(batch, cards)
	f.insertBatches = append(f.insertBatches, batch)
	return nil
}

func (f *fakeStore) UpdateCard(ctx context.Context, card *model.BusinessCard) error {
	f.cardUpdates = append(f.cardUpdates, *card)
	return nil
}

func (f *fakeStore) SharedExchange(ctx context.Context, fn func(tx store.SharedTx) error) error {
	return fn(&fakeTx{f: f})
}

func (f *fakeStore) CountSharedCards(ctx context.Context, userID string) (int, error) {
	return f.sharedCount, f.sharedCountErr
}

func (f *fakeStore) CountContributorRows(ctx context.Context, userID string) (int, error) {
	return f.contribRows, nil
}

func (f *fakeStore) ListCardRawData(ctx context.Context, supporterID string) ([]model.RawData, error) {
	return f.rawCards, nil
}

func (f *fakeStore) ListSharedRawData(ctx context.Context, userID string) ([]model.RawData, error) {
	return f.rawShared, nil
}

func (f *fakeStore) ListContributedRawData(ctx context.Context, userID string) ([]model.RawData, error) {
	return f.rawContributed, nil
}

func (f *fakeStore) ListTagSettings(ctx context.Context, userID string) ([]model.TagSetting, error) {
	return nil, nil
}

func (f *fakeStore) UpsertTagSettings(ctx context.Context, userID string, settings []model.TagSetting) error {
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error    { return nil }
func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

type fakeTx struct {
	f *fakeStore
}

func (t *fakeTx) ListActiveShared(ctx context.Context) ([]dedupe.Existing, error) {
	return t.f.shared, nil
}

func (t *fakeTx) InsertShared(ctx context.Context, cards []model.SharedCard) error {
	batch := make([]model.SharedCard, len(cards))
	copy(batch, cards)
	t.f.sharedInserts = append(t.f.sharedInserts, batch)
	return nil
}

func (t *fakeTx) UpdateShared(ctx context.Context, card *model.SharedCard) error {
	t.f.sharedUpdates = append(t.f.sharedUpdates, *card)
	return nil
}

func (t *fakeTx) InsertContributions(ctx context.Context, contribs []model.Contribution) error {
	if t.f.contribErr != nil {
		return t.f.contribErr
	}
	t.f.contribs = append(t.f.contribs, contribs...)
	return nil
}

type fakeBlob struct {
	objects map[string][]byte
}

func (b *fakeBlob) Put(ctx context.Context, key string, data []byte) error {
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return nil
}

func newTestIngestor(f *fakeStore, cfg config.IngestConfig) (*Ingestor, *fakeBlob) {
	b := &fakeBlob{}
	return New(f, b, cfg), b
}

var testID = auth.Identity{UserID: "user-1", Email: "u@example.com"}

const sampleCSV = "会社名,姓,名,メール,名刺交換日,趣味\n" +
	"アクメ,山田,太郎,taro@example.com,2024/1/15,ゴルフ\n" +
	"ベータ,佐藤,花子,hanako@example.com,2024/2/1,読書\n" +
	"ガンマ,鈴木,一郎,ichiro@example.com,2024/3/10,\n"

func TestIngest_AllNew(t *testing.T) {
	f := &fakeStore{sharedCount: 3}
	g, b := newTestIngestor(f, config.IngestConfig{})

	res, err := g.Ingest(context.Background(), testID, "cards.csv", []byte(sampleCSV))
	require.NoError(t, err)

	// Raw bytes archived under the uploader's prefix.
	require.Len(t, b.objects, 1)
	for key := range b.objects {
		assert.True(t, strings.HasPrefix(key, "user-1/"))
		assert.True(t, strings.HasSuffix(key, "_cards.csv"))
	}

	// All-new batch replaces the previous upload.
	assert.True(t, f.deleted)
	require.Len(t, f.insertBatches, 1)
	assert.Len(t, f.insertBatches[0], 3)

	// Everything flows to the shared pool with contribution rows.
	require.Len(t, f.sharedInserts, 1)
	require.Len(t, f.contribs, 3)
	for i, c := range f.contribs {
		assert.Equal(t, i, c.Data.RecordIndex)
		assert.Equal(t, model.ContributionOriginal, c.Type)
		assert.Equal(t, "csv_upload", c.Data.Source)
		assert.Equal(t, f.sharedInserts[0][i].ID, c.SharedCardID)
	}

	assert.Equal(t, 3, res.RecordCount)
	assert.Equal(t, 3, res.Duplicates.NewRecords)
	assert.Equal(t, []string{"趣味"}, res.Tags)
	assert.Equal(t, 1, res.TagCount)

	// Cumulative supporter count: live count plus this upload's records.
	require.NotNil(t, f.upload)
	assert.Equal(t, 6, f.upload.SharedCount)
	assert.Equal(t, "cards.csv", f.upload.Filename)
}

func TestIngest_PrivateSkipKeepsSharedPoolUntouched(t *testing.T) {
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeStore{
		cards: []model.BusinessCard{{
			ID: "card-1",
			Contact: model.Contact{
				Email:       "taro@example.com",
				ExchangedOn: &newer,
			},
		}},
	}
	g, _ := newTestIngestor(f, config.IngestConfig{})

	csv := "会社名,姓,名,メール,名刺交換日\nアクメ,山田,太郎,taro@example.com,2024/1/15\n"
	res, err := g.Ingest(context.Background(), testID, "cards.csv", []byte(csv))
	require.NoError(t, err)

	assert.False(t, f.deleted, "skips must not trigger the replace path")
	assert.Empty(t, f.insertBatches)
	assert.Empty(t, f.sharedInserts)
	assert.Equal(t, 0, res.RecordCount)
	assert.Equal(t, 1, res.Duplicates.DuplicatesSkipped)
}

func TestIngest_SharedUpdate(t *testing.T) {
	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeStore{
		shared: []dedupe.Existing{{
			ID:          "shared-1",
			Email:       "taro@example.com",
			ExchangedOn: &older,
		}},
	}
	g, _ := newTestIngestor(f, config.IngestConfig{})

	csv := "会社名,姓,名,メール,名刺交換日\nアクメ,山田,太郎,taro@example.com,2024/1/15\n"
	res, err := g.Ingest(context.Background(), testID, "cards.csv", []byte(csv))
	require.NoError(t, err)

	// Privately new, but a newer exchange date updates the shared record.
	require.Len(t, f.insertBatches, 1)
	assert.Empty(t, f.sharedInserts)
	require.Len(t, f.sharedUpdates, 1)
	assert.Equal(t, "shared-1", f.sharedUpdates[0].ID)
	assert.Empty(t, f.contribs, "updates carry no contribution rows")

	assert.Equal(t, 1, res.RecordCount)
	assert.Equal(t, 1, res.Duplicates.UpdatedRecords)
}

func TestIngest_Validation(t *testing.T) {
	f := &fakeStore{}
	g, b := newTestIngestor(f, config.IngestConfig{MaxFileBytes: 10})

	cases := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"wrong extension", "cards.xlsx", []byte("a,b\n1,2\n")},
		{"empty file", "cards.csv", nil},
		{"oversized", "cards.csv", []byte(strings.Repeat("x", 11))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Ingest(context.Background(), testID, tc.filename, tc.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Empty(t, f.insertBatches)
	assert.Nil(t, f.upload)
	assert.Empty(t, b.objects, "rejected uploads are not archived")
}

func TestIngest_NoDataRows(t *testing.T) {
	f := &fakeStore{}
	g, _ := newTestIngestor(f, config.IngestConfig{})

	_, err := g.Ingest(context.Background(), testID, "cards.csv", []byte("会社名,姓\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Nil(t, f.upload)
}

func TestIngest_Batching(t *testing.T) {
	f := &fakeStore{}
	g, _ := newTestIngestor(f, config.IngestConfig{PrivateBatchSize: 2, SharedBatchSize: 2})

	var sb strings.Builder
	sb.WriteString("会社名,姓,名,メール\n")
	for _, r := range []string{"a", "b", "c", "d", "e"} {
		sb.WriteString("社" + r + ",姓" + r + ",名" + r + "," + r + "@example.com\n")
	}

	res, err := g.Ingest(context.Background(), testID, "cards.csv", []byte(sb.String()))
	require.NoError(t, err)

	require.Len(t, f.insertBatches, 3)
	assert.Len(t, f.insertBatches[2], 1)
	require.Len(t, f.sharedInserts, 3)

	// Record indices keep counting across shared batches.
	require.Len(t, f.contribs, 5)
	assert.Equal(t, 4, f.contribs[4].Data.RecordIndex)
	assert.Equal(t, 5, res.RecordCount)
}

func TestIngest_ContributionFailureIsNonFatal(t *testing.T) {
	f := &fakeStore{contribErr: assert.AnError}
	g, _ := newTestIngestor(f, config.IngestConfig{})

	csv := "会社名,姓,名,メール\nアクメ,山田,太郎,taro@example.com\n"
	res, err := g.Ingest(context.Background(), testID, "cards.csv", []byte(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordCount)
	assert.Empty(t, f.contribs)
}

func TestIngest_CountFallback(t *testing.T) {
	f := &fakeStore{sharedCountErr: assert.AnError, contribRows: 4}
	g, _ := newTestIngestor(f, config.IngestConfig{})

	csv := "会社名,姓,名,メール\nアクメ,山田,太郎,taro@example.com\n"
	_, err := g.Ingest(context.Background(), testID, "cards.csv", []byte(csv))
	require.NoError(t, err)

	require.NotNil(t, f.upload)
	assert.Equal(t, 5, f.upload.SharedCount)
}

func TestAllTags(t *testing.T) {
	f := &fakeStore{
		rawCards: []model.RawData{
			{MyTags: map[string]string{"趣味": "ゴルフ", "空欄": ""}},
		},
		rawShared: []model.RawData{
			{MyTags: map[string]string{"出身地": "大阪"}},
		},
		rawContributed: []model.RawData{
			{MyTags: map[string]string{"趣味": "読書", "紹介者": "佐藤"}},
		},
	}
	g, _ := newTestIngestor(f, config.IngestConfig{})

	tags, err := g.AllTags(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"出身地", "紹介者", "趣味"}, tags)
}
