package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cocorobi/cardpool/internal/config"
	"github.com/cocorobi/cardpool/internal/dedupe"
	"github.com/cocorobi/cardpool/internal/model"
)

// UploadMeta is the supporter-profile update written at the end of a
// successful ingestion. SharedCount is cumulative across uploads.
type UploadMeta struct {
	Filename    string
	UploadedAt  time.Time
	SharedCount int
}

// SharedTx is the shared-pool write surface. All shared-pool reads and
// writes of one ingestion happen through a single SharedTx so the
// read-then-write window is covered by one lock.
type SharedTx interface {
	// ListActiveShared returns the match keys of every active shared record.
	ListActiveShared(ctx context.Context) ([]dedupe.Existing, error)
	InsertShared(ctx context.Context, cards []model.SharedCard) error
	UpdateShared(ctx context.Context, card *model.SharedCard) error
	InsertContributions(ctx context.Context, contribs []model.Contribution) error
}

// Store defines the persistence interface for the ingestion pipeline and
// the API handlers.
type Store interface {
	// Supporters
	GetSupporter(ctx context.Context, userID string) (*model.Supporter, error)
	EnsureSupporter(ctx context.Context, userID, email string) (*model.Supporter, error)
	RecordUpload(ctx context.Context, userID string, meta UploadMeta) error

	// Private store
	ListCards(ctx context.Context, supporterID string) ([]model.BusinessCard, error)
	DeleteCards(ctx context.Context, supporterID string) error
	InsertCards(ctx context.Context, cards []model.BusinessCard) error
	UpdateCard(ctx context.Context, card *model.BusinessCard) error

	// Shared pool. SharedExchange runs fn inside a transaction holding the
	// pool-wide ingestion lock, serializing concurrent uploads so two users
	// cannot both classify the same contact as new.
	SharedExchange(ctx context.Context, fn func(tx SharedTx) error) error

	// CountSharedCards counts active shared records the user contributed to;
	// CountContributorRows is the degraded fallback when the join fails.
	CountSharedCards(ctx context.Context, userID string) (int, error)
	CountContributorRows(ctx context.Context, userID string) (int, error)

	// Tag sources
	ListCardRawData(ctx context.Context, supporterID string) ([]model.RawData, error)
	ListSharedRawData(ctx context.Context, userID string) ([]model.RawData, error)
	ListContributedRawData(ctx context.Context, userID string) ([]model.RawData, error)

	// Tag settings
	ListTagSettings(ctx context.Context, userID string) ([]model.TagSetting, error)
	UpsertTagSettings(ctx context.Context, userID string, settings []model.TagSetting) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
