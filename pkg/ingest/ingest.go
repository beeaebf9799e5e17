package ingest

import (
	"context"
	"errors"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

// Source is a news provider. Fetch returns normalized articles for the
// given ticker watchlist; sources that ignore tickers accept them
// anyway so the stage can treat providers uniformly.
type Source interface {
	Name() string
	Fetch(ctx context.Context, tickers []string) ([]common.Article, error)
}

// Stage collects articles from every configured source and persists
// the raw batches. One failing source does not fail the stage.
type Stage struct {
	sources map[string]Source
	store   *RawStore
}

func NewStage(store *RawStore, sources ...Source) *Stage {
	byName := make(map[string]Source, len(sources))
	for _, src := range sources {
		byName[src.Name()] = src
	}
	return &Stage{sources: byName, store: store}
}

// Run fetches from the sources named in opts, deduplicates by article
// id, and truncates to the sample size. With ReuseRaw set, previously
// persisted raw files are loaded instead of fetching.
func (s *Stage) Run(ctx context.Context, opts config.RunOptions) ([]common.Article, error) {
	if opts.ReuseRaw {
		articles, err := s.store.Load()
		if err != nil {
			return nil, err
		}
		logger.Info("[Ingestion] Reusing raw data", "articles", len(articles))
		return sample(dedupe(articles), opts.SampleSize), nil
	}

	var collected []common.Article
	var lastErr error
	succeeded := 0

	for _, name := range opts.Sources {
		src, ok := s.sources[name]
		if !ok {
			logger.Warn("[Ingestion] Source not configured, skipping", "source", name)
			continue
		}

		batch, err := src.Fetch(ctx, opts.Tickers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("[Ingestion] Source failed", "source", name, "err", err)
			lastErr = err
			continue
		}
		succeeded++

		if len(batch) > 0 {
			path, err := s.store.Write(name, batch)
			if err != nil {
				return nil, err
			}
			logger.Info("[Ingestion] Saved raw batch", "source", name, "articles", len(batch), "path", path)
		}
		collected = append(collected, batch...)
	}

	if succeeded == 0 {
		// Fall back to whatever raw data an earlier run left behind.
		existing, err := s.store.Load()
		if err == nil && len(existing) > 0 {
			logger.Warn("[Ingestion] All sources failed, using existing raw data", "articles", len(existing))
			return sample(dedupe(existing), opts.SampleSize), nil
		}
		if lastErr == nil {
			lastErr = errors.New("no ingestion sources configured")
		}
		return nil, lastErr
	}

	return sample(dedupe(collected), opts.SampleSize), nil
}

func dedupe(articles []common.Article) []common.Article {
	seen := make(map[string]struct{}, len(articles))
	out := articles[:0:0]
	for _, article := range articles {
		if _, dup := seen[article.ID]; dup {
			continue
		}
		seen[article.ID] = struct{}{}
		out = append(out, article)
	}
	return out
}

func sample(articles []common.Article, n int) []common.Article {
	if n > 0 && len(articles) > n {
		return articles[:n]
	}
	return articles
}
