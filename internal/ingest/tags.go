package ingest

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/cocorobi/cardpool/internal/model"
)

// AllTags aggregates the user's tag columns across every record they can
// see: their private cards, shared cards they uploaded, and shared cards
// they contributed to. Returns a sorted unique slice.
func (g *Ingestor) AllTags(ctx context.Context, userID string) ([]string, error) {
	sources := []func(context.Context, string) ([]model.RawData, error){
		g.store.ListCardRawData,
		g.store.ListSharedRawData,
		g.store.ListContributedRawData,
	}

	var mu sync.Mutex
	tagSet := map[string]struct{}{}

	eg, ctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		eg.Go(func() error {
			rows, err := source(ctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range rows {
				for tag, v := range r.MyTags {
					if v != "" {
						tagSet[tag] = struct{}{}
					}
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "ingest: aggregate tags")
	}
	return sortedKeys(tagSet), nil
}
