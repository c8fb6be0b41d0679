// Package orchestrator runs a store scrape: categories are fetched and parsed by a
// bounded worker pool and persisted one category per transaction by a single writer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/navid-fn/pricio/internal/ledger"
	"github.com/navid-fn/pricio/internal/matcher"
	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/scraper"
	"github.com/navid-fn/pricio/internal/storage"
)

var errEmptyCategory = errors.New("category returned no pages")

// Archiver receives committed observations. Failures are logged, never fatal.
type Archiver interface {
	ArchiveObservations(ctx context.Context, rows []models.ArchiveRow) error
}

// Config selects the run mode and the fetch concurrency.
type Config struct {
	Mode    models.RunMode
	Workers int
}

type Orchestrator struct {
	store   storage.Store
	adapter scraper.Adapter
	pages   scraper.PageGetter
	matcher *matcher.Matcher
	ledger  *ledger.Ledger
	archive Archiver
	cfg     Config
	logger  logrus.FieldLogger
	now     func() time.Time
}

func New(store storage.Store, adapter scraper.Adapter, pages scraper.PageGetter, cfg Config, logger logrus.FieldLogger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModeFull
	}
	return &Orchestrator{
		store:   store,
		adapter: adapter,
		pages:   pages,
		matcher: matcher.New(store),
		ledger:  ledger.New(store),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithArchive forwards committed observations to a.
func (o *Orchestrator) WithArchive(a Archiver) *Orchestrator {
	o.archive = a
	return o
}

type categoryResult struct {
	category  scraper.Category
	records   []scraper.NormalizedRecord
	fetched   int
	skipped   int
	fetchedAt time.Time
	err       error
}

type counts struct {
	created, updated, unchanged, skipped, productsCreated int
}

// Run scrapes the store once. The returned run is always non-nil once it has been
// created. A storage failure aborts the run and is returned wrapping
// storage.ErrUnavailable; category failures are only counted.
func (o *Orchestrator) Run(ctx context.Context) (*models.ScrapeRun, error) {
	run := &models.ScrapeRun{
		ID:        uuid.New(),
		Store:     o.adapter.Name(),
		Mode:      o.cfg.Mode,
		Status:    models.RunIdle,
		StartedAt: o.now(),

		Categories:       pq.StringArray{},
		FailedCategories: pq.StringArray{},
	}
	log := o.logger.WithFields(logrus.Fields{"store": run.Store, "run": run.ID, "mode": run.Mode})

	run.Status = models.RunRunning
	if err := o.store.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("create run: %w", err)
	}

	categories, err := o.adapter.Categories(ctx, o.pages)
	if err == nil && len(categories) == 0 {
		err = errors.New("no categories")
	}
	if err != nil {
		log.Errorf("Category discovery failed: %v", err)
		o.finish(run, models.RunPartiallyFailed, log)
		if ctx.Err() != nil {
			return run, ctx.Err()
		}
		return run, nil
	}
	if o.cfg.Mode == models.ModeDemo {
		categories = categories[:1]
	}
	for _, c := range categories {
		run.Categories = append(run.Categories, c.Name)
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		return run, o.abort(run, fmt.Errorf("save run: %w", err), log)
	}
	log.Infof("Scraping %d categories with %d workers", len(categories), o.cfg.Workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := o.fetchAll(runCtx, categories)

	var fatal error
	for res := range results {
		if fatal != nil || ctx.Err() != nil {
			continue
		}
		clog := log.WithField("category", res.category.Name)

		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				continue
			}
			run.Failed++
			run.FailedCategories = append(run.FailedCategories, res.category.Name)
			clog.Warnf("Category failed: %v", res.err)
		} else {
			c, rows, err := o.persist(runCtx, run, res, clog)
			if err != nil {
				if ctx.Err() == nil {
					fatal = fmt.Errorf("persist category %s: %w", res.category.Name, err)
					cancel()
				}
				continue
			}
			run.Fetched += res.fetched
			run.Skipped += res.skipped + c.skipped
			run.Created += c.created
			run.Updated += c.updated
			run.Unchanged += c.unchanged
			run.ProductsCreated += c.productsCreated
			run.Succeeded++
			clog.Infof("Category committed: %d records, %d new listings, %d price changes, %d skipped",
				len(res.records), c.created, c.updated, res.skipped+c.skipped)
			o.archiveRows(runCtx, rows, clog)
		}

		if err := o.store.SaveRun(runCtx, run); err != nil && ctx.Err() == nil {
			fatal = fmt.Errorf("save run: %w", err)
			cancel()
		}
	}

	switch {
	case fatal != nil:
		return run, o.abort(run, fatal, log)
	case ctx.Err() != nil:
		log.Warn("Run cancelled")
		o.finish(run, models.RunPartiallyFailed, log)
		return run, ctx.Err()
	case run.Succeeded > 0:
		o.finish(run, models.RunCompleted, log)
	default:
		o.finish(run, models.RunPartiallyFailed, log)
	}
	return run, nil
}

// fetchAll fetches and parses categories on the worker pool. The channel is closed
// once every started category has been delivered.
func (o *Orchestrator) fetchAll(ctx context.Context, categories []scraper.Category) <-chan categoryResult {
	results := make(chan categoryResult)

	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(o.cfg.Workers)
		for _, c := range categories {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res := o.collect(ctx, c)
				select {
				case results <- res:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results
}

func (o *Orchestrator) collect(ctx context.Context, c scraper.Category) categoryResult {
	res := categoryResult{category: c}
	log := o.logger.WithFields(logrus.Fields{"store": o.adapter.Name(), "category": c.Name})

	payloads, err := o.adapter.Fetch(ctx, o.pages, c)
	if err != nil {
		res.err = err
		return res
	}
	if len(payloads) == 0 {
		res.err = errEmptyCategory
		return res
	}

	for _, p := range payloads {
		candidates, skipped := o.adapter.Parse(p)
		res.fetched += len(candidates) + len(skipped)
		res.skipped += len(skipped)
		for _, s := range skipped {
			log.Debugf("Skipped: %v", s)
		}

		for _, cand := range candidates {
			rec, err := scraper.Normalize(cand)
			if err != nil {
				res.skipped++
				log.Debugf("Skipped %s: %v", cand.SKU, err)
				continue
			}
			res.records = append(res.records, rec)
		}
	}
	res.fetchedAt = o.now()
	return res
}

// persist writes one category atomically.
func (o *Orchestrator) persist(ctx context.Context, run *models.ScrapeRun, res categoryResult, log logrus.FieldLogger) (counts, []models.ArchiveRow, error) {
	var c counts
	var rows []models.ArchiveRow

	err := o.store.WithinTx(ctx, func(repo storage.ListingRepository) error {
		c, rows = counts{}, nil
		for _, rec := range res.records {
			product, created, err := o.matcher.Match(ctx, repo, rec)
			if err != nil {
				return err
			}
			if created {
				c.productsCreated++
			}

			listing, listingCreated, err := o.matcher.Bind(ctx, repo, product, rec, run.StartedAt, res.fetchedAt)
			if err != nil {
				return err
			}

			obs, appended, err := o.ledger.Record(ctx, repo, listing, ledger.Observation{
				Price:        rec.Price,
				RegularPrice: rec.RegularPrice,
				Currency:     rec.Currency,
				Discount:     rec.Discount,
				ObservedAt:   res.fetchedAt,
				RunID:        run.ID,
			})
			if errors.Is(err, ledger.ErrStaleObservation) {
				c.skipped++
				log.Debugf("Skipped %s: %v", rec.SKU, err)
				continue
			}
			if err != nil {
				return err
			}

			switch {
			case listingCreated:
				c.created++
			case appended:
				c.updated++
			default:
				c.unchanged++
			}
			if appended {
				rows = append(rows, models.ArchiveRow{
					ObservationID: obs.ID,
					RunID:         run.ID,
					Store:         listing.Store,
					SKU:           listing.SKU,
					ProductID:     listing.ProductID,
					ListingID:     listing.ID,
					Category:      product.Category,
					Price:         obs.Price,
					Currency:      obs.Currency,
					Discount:      obs.Discount,
					ObservedAt:    obs.ObservedAt,
				})
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrUnavailable) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return c, rows, err
}

func (o *Orchestrator) archiveRows(ctx context.Context, rows []models.ArchiveRow, log logrus.FieldLogger) {
	if o.archive == nil || len(rows) == 0 {
		return
	}
	if err := o.archive.ArchiveObservations(ctx, rows); err != nil {
		log.Warnf("Archive failed for %d observations: %v", len(rows), err)
	}
}

// abort finalizes a run after a storage failure: PartiallyFailed when a category was
// committed, otherwise the run stays Running.
func (o *Orchestrator) abort(run *models.ScrapeRun, err error, log logrus.FieldLogger) error {
	log.Errorf("Run aborted: %v", err)
	if run.Succeeded > 0 {
		o.finish(run, models.RunPartiallyFailed, log)
	}
	return err
}

func (o *Orchestrator) finish(run *models.ScrapeRun, status models.RunStatus, log logrus.FieldLogger) {
	finished := o.now()
	run.Status = status
	run.FinishedAt = &finished

	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SaveRun(ctx, run); err != nil {
		log.Errorf("Saving final run state failed: %v", err)
	}
	log.WithField("status", status).Info("Run finished")
}
