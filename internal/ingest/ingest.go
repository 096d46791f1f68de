// Package ingest runs the CSV upload pipeline: archive the raw file,
// parse and normalize rows, resolve duplicates against the contributor's
// private store, then merge the survivors into the cross-user shared pool.
package ingest

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cocorobi/cardpool/internal/auth"
	"github.com/cocorobi/cardpool/internal/blob"
	"github.com/cocorobi/cardpool/internal/config"
	"github.com/cocorobi/cardpool/internal/csvcard"
	"github.com/cocorobi/cardpool/internal/dedupe"
	"github.com/cocorobi/cardpool/internal/model"
	"github.com/cocorobi/cardpool/internal/store"
)

// ErrValidation marks upload rejections the caller should report as a bad
// request rather than a server failure.
var ErrValidation = eris.New("invalid upload")

// Result is what one successful ingestion reports back to the uploader.
// RecordCount is the number of records that landed in the shared pool
// (new plus updated), not the row count of the file.
type Result struct {
	RecordCount int                 `json:"record_count"`
	TagCount    int                 `json:"tag_count"`
	Tags        []string            `json:"tags"`
	Duplicates  model.DuplicateInfo `json:"duplicate_info"`
}

// Ingestor wires the pipeline's dependencies together.
type Ingestor struct {
	store store.Store
	blob  blob.Blob
	cfg   config.IngestConfig
}

// New creates an Ingestor. Zero batch sizes fall back to the defaults.
func New(st store.Store, bl blob.Blob, cfg config.IngestConfig) *Ingestor {
	if cfg.PrivateBatchSize <= 0 {
		cfg.PrivateBatchSize = 100
	}
	if cfg.SharedBatchSize <= 0 {
		cfg.SharedBatchSize = 50
	}
	return &Ingestor{store: st, blob: bl, cfg: cfg}
}

// Ingest runs the full pipeline for one uploaded file.
func (g *Ingestor) Ingest(ctx context.Context, id auth.Identity, filename string, data []byte) (*Result, error) {
	if err := g.validate(filename, data); err != nil {
		return nil, err
	}

	sup, err := g.store.EnsureSupporter(ctx, id.UserID, id.Email)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: ensure supporter")
	}

	uploadedAt := time.Now().UTC()
	key := path.Join(id.UserID, uploadedAt.Format("20060102T150405Z")+"_"+filepath.Base(filename))
	if err := g.blob.Put(ctx, key, data); err != nil {
		return nil, eris.Wrap(err, "ingest: archive upload")
	}

	table, err := csvcard.ParseTable(data)
	if err != nil {
		return nil, eris.Wrap(ErrValidation, err.Error())
	}
	if len(table.Rows) == 0 {
		return nil, eris.Wrap(ErrValidation, "no data rows")
	}

	contacts := make([]model.Contact, len(table.Rows))
	tagSet := map[string]struct{}{}
	for i, row := range table.Rows {
		contacts[i] = csvcard.Normalize(row)
		for tag, v := range contacts[i].RawData.MyTags {
			if v != "" {
				tagSet[tag] = struct{}{}
			}
		}
	}
	tags := sortedKeys(tagSet)

	privateInfo, shareIdx, err := g.savePrivate(ctx, sup.ID, contacts)
	if err != nil {
		return nil, err
	}

	// Records skipped privately never reach the shared pool; a file where
	// everything was skipped leaves the pool untouched and reports the
	// private-scope resolution.
	sharedInfo := privateInfo
	if len(shareIdx) > 0 {
		sharedInfo, err = g.saveShared(ctx, sup.ID, id.UserID, uploadedAt, contacts, shareIdx)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: shared pool save")
		}
	}

	saved := sharedInfo.NewRecords + sharedInfo.UpdatedRecords
	total := g.sharedCardsCount(ctx, id.UserID)

	if err := g.store.RecordUpload(ctx, sup.ID, store.UploadMeta{
		Filename:    filename,
		UploadedAt:  uploadedAt,
		SharedCount: total + saved,
	}); err != nil {
		return nil, eris.Wrap(err, "ingest: record upload")
	}

	return &Result{
		RecordCount: saved,
		TagCount:    len(tags),
		Tags:        tags,
		Duplicates:  sharedInfo,
	}, nil
}

// validate rejects uploads before any stateful work happens.
func (g *Ingestor) validate(filename string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return eris.Wrapf(ErrValidation, "unsupported file type %q", filepath.Ext(filename))
	}
	if len(data) == 0 {
		return eris.Wrap(ErrValidation, "empty file")
	}
	if g.cfg.MaxFileBytes > 0 && int64(len(data)) > g.cfg.MaxFileBytes {
		return eris.Wrapf(ErrValidation, "file exceeds %d bytes", g.cfg.MaxFileBytes)
	}
	return nil
}

// savePrivate resolves the batch against the contributor's own store and
// persists it. It returns the resolution summary plus the indices of the
// contacts that move on to the shared phase (new and updated ones).
func (g *Ingestor) savePrivate(ctx context.Context, supporterID string, contacts []model.Contact) (model.DuplicateInfo, []int, error) {
	cards, err := g.store.ListCards(ctx, supporterID)
	if err != nil {
		return model.DuplicateInfo{}, nil, eris.Wrap(err, "ingest: list cards")
	}
	existing := make([]dedupe.Existing, len(cards))
	for i, c := range cards {
		existing[i] = dedupe.Existing{
			ID:          c.ID,
			Name:        c.Name,
			Company:     c.Company,
			Email:       c.Email,
			ExchangedOn: c.ExchangedOn,
		}
	}
	ix := dedupe.NewIndex(existing)

	info := model.DuplicateInfo{TotalProcessed: len(contacts)}
	var inserts, updates []model.BusinessCard
	var shareIdx []int
	for i := range contacts {
		d := ix.Resolve(&contacts[i])
		info.Details = append(info.Details, detail(&contacts[i], d))
		switch d.Action {
		case model.ActionNew:
			info.NewRecords++
			inserts = append(inserts, model.BusinessCard{
				ID:          uuid.New().String(),
				SupporterID: supporterID,
				Contact:     contacts[i],
			})
			shareIdx = append(shareIdx, i)
		case model.ActionUpdated:
			info.UpdatedRecords++
			updates = append(updates, model.BusinessCard{
				ID:          d.ExistingID,
				SupporterID: supporterID,
				Contact:     contacts[i],
			})
			shareIdx = append(shareIdx, i)
		default:
			info.DuplicatesSkipped++
		}
	}

	// A batch that is entirely new replaces the previous upload outright.
	if len(updates) == 0 && info.DuplicatesSkipped == 0 {
		if err := g.store.DeleteCards(ctx, supporterID); err != nil {
			zap.L().Warn("previous card deletion failed",
				zap.String("supporter_id", supporterID), zap.Error(err))
		}
	}

	for start := 0; start < len(inserts); start += g.cfg.PrivateBatchSize {
		end := min(start+g.cfg.PrivateBatchSize, len(inserts))
		if err := g.store.InsertCards(ctx, inserts[start:end]); err != nil {
			return model.DuplicateInfo{}, nil, eris.Wrap(err, "ingest: insert cards")
		}
	}
	for i := range updates {
		if err := g.store.UpdateCard(ctx, &updates[i]); err != nil {
			zap.L().Warn("card update failed",
				zap.String("card_id", updates[i].ID), zap.Error(err))
		}
	}
	return info, shareIdx, nil
}

// saveShared merges the surviving contacts into the shared pool. The whole
// read-resolve-write sequence runs under the store's exchange lock so
// concurrent uploads cannot both classify the same contact as new.
func (g *Ingestor) saveShared(ctx context.Context, supporterID, userID string, uploadedAt time.Time, contacts []model.Contact, shareIdx []int) (model.DuplicateInfo, error) {
	info := model.DuplicateInfo{TotalProcessed: len(shareIdx)}

	err := g.store.SharedExchange(ctx, func(tx store.SharedTx) error {
		existing, err := tx.ListActiveShared(ctx)
		if err != nil {
			return err
		}
		ix := dedupe.NewIndex(existing)

		var inserts []model.SharedCard
		var updates []model.SharedCard
		for _, i := range shareIdx {
			d := ix.Resolve(&contacts[i])
			info.Details = append(info.Details, detail(&contacts[i], d))
			switch d.Action {
			case model.ActionNew:
				info.NewRecords++
				inserts = append(inserts, model.SharedCard{
					ID:             uuid.New().String(),
					ContributorID:  supporterID,
					SharedByUserID: userID,
					Contact:        contacts[i],
					IsActive:       true,
					SharedAt:       uploadedAt,
				})
			case model.ActionUpdated:
				info.UpdatedRecords++
				updates = append(updates, model.SharedCard{
					ID:      d.ExistingID,
					Contact: contacts[i],
				})
			default:
				info.DuplicatesSkipped++
			}
		}

		for start := 0; start < len(inserts); start += g.cfg.SharedBatchSize {
			end := min(start+g.cfg.SharedBatchSize, len(inserts))
			batch := inserts[start:end]
			if err := tx.InsertShared(ctx, batch); err != nil {
				return eris.Wrap(err, "insert shared cards")
			}

			contribs := make([]model.Contribution, len(batch))
			for j, card := range batch {
				contribs[j] = model.Contribution{
					ID:                     uuid.New().String(),
					SharedCardID:           card.ID,
					ContributorUserID:      userID,
					ContributorSupporterID: supporterID,
					Type:                   model.ContributionOriginal,
					Data: model.ContributionData{
						Source:      "csv_upload",
						UploadedAt:  uploadedAt,
						RecordIndex: start + j,
					},
				}
			}
			// Contribution rows are bookkeeping; losing them degrades the
			// supporter count but must not fail the upload.
			if err := tx.InsertContributions(ctx, contribs); err != nil {
				zap.L().Warn("contribution insert failed",
					zap.String("user_id", userID), zap.Error(err))
			}
		}

		for i := range updates {
			if err := tx.UpdateShared(ctx, &updates[i]); err != nil {
				zap.L().Warn("shared card update failed",
					zap.String("card_id", updates[i].ID), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return model.DuplicateInfo{}, err
	}
	return info, nil
}

// sharedCardsCount returns the user's cumulative shared-pool contribution
// count, degrading to the raw contributor-row count and finally to zero.
func (g *Ingestor) sharedCardsCount(ctx context.Context, userID string) int {
	n, err := g.store.CountSharedCards(ctx, userID)
	if err == nil {
		return n
	}
	zap.L().Warn("shared card count failed, using contributor rows",
		zap.String("user_id", userID), zap.Error(err))

	n, err = g.store.CountContributorRows(ctx, userID)
	if err != nil {
		zap.L().Warn("contributor row count failed",
			zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return n
}

func detail(c *model.Contact, d dedupe.Decision) model.DuplicateDetail {
	return model.DuplicateDetail{
		Name:    c.DisplayName(),
		Company: c.Company,
		Email:   c.Email,
		Reason:  d.Reason,
		Action:  d.Action,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
