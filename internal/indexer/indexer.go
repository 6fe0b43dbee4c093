// Package indexer consumes the committed event log and maintains the read
// side: listing projections in Postgres, cached views in Redis, live event
// fan-out on the signal bus, operator notifications and archived log
// segments in object storage. It only ever reads the log; nothing on the
// write path depends on it.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/metrics"
)

// Source is the committed event log.
type Source interface {
	ID() uint64
	Logs(after uint64, limit int) []chain.Log
	LogCount() uint64
}

// EventHandler receives every projected event after it is stored.
type EventHandler interface {
	HandleEvent(ctx context.Context, rec domain.EventRecord) error
}

// Archiver copies a log segment (from, to] to cold storage.
type Archiver interface {
	ArchiveSegment(ctx context.Context, from, to uint64) (int, error)
}

// Resetter wipes the persisted projection.
type Resetter interface {
	ResetProjection(ctx context.Context) error
}

// Config tunes the indexer loop.
type Config struct {
	// Name keys the cursor and the lock.
	Name         string
	PollInterval time.Duration
	BatchSize    int
	LockTTL      time.Duration
	// ArchiveEvery is the archive segment length in log entries. Zero
	// disables archiving.
	ArchiveEvery uint64
}

// Deps are the collaborators. Source, Listings, Events and Cursors are
// required; the rest may be nil.
type Deps struct {
	Source   Source
	Listings domain.ListingStore
	Events   domain.EventStore
	Cursors  domain.CursorStore
	Reset    Resetter
	Cache    domain.ListingCache
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Handlers []EventHandler
	Archiver Archiver
	Metrics  *metrics.Metrics
}

// Indexer projects the event log.
type Indexer struct {
	cfg       Config
	deps      Deps
	projector *Projector
	cursor    uint64
	logger    *slog.Logger
}

// New creates an Indexer.
func New(cfg Config, deps Deps, logger *slog.Logger) *Indexer {
	if cfg.Name == "" {
		cfg.Name = "projector"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Indexer{
		cfg:       cfg,
		deps:      deps,
		projector: NewProjector(deps.Listings),
		logger:    logger.With(slog.String("component", "indexer")),
	}
}

func (ix *Indexer) epochCursor() string   { return ix.cfg.Name + ".chain" }
func (ix *Indexer) archiveCursor() string { return ix.cfg.Name + ".archive" }

// Cursor returns the last log sequence number committed to the projection.
func (ix *Indexer) Cursor() uint64 {
	return ix.cursor
}

// Start loads the cursor. A projection built from another chain instance
// is discarded first.
func (ix *Indexer) Start(ctx context.Context) error {
	epoch, err := ix.deps.Cursors.Get(ctx, ix.epochCursor())
	if err != nil {
		return fmt.Errorf("indexer: load chain id: %w", err)
	}
	if chainID := ix.deps.Source.ID(); epoch != chainID {
		if ix.deps.Reset != nil {
			ix.logger.Warn("projection belongs to another chain instance, resetting",
				slog.Uint64("stored_chain", epoch),
				slog.Uint64("chain", chainID),
			)
			if err := ix.deps.Reset.ResetProjection(ctx); err != nil {
				return fmt.Errorf("indexer: %w", err)
			}
		}
		if err := ix.deps.Cursors.Set(ctx, ix.epochCursor(), chainID); err != nil {
			return fmt.Errorf("indexer: store chain id: %w", err)
		}
	}

	cursor, err := ix.deps.Cursors.Get(ctx, ix.cfg.Name)
	if err != nil {
		return fmt.Errorf("indexer: load cursor: %w", err)
	}
	ix.cursor = cursor
	ix.logger.Info("indexer starting", slog.Uint64("cursor", cursor), slog.Uint64("head", ix.deps.Source.LogCount()))
	return nil
}

// Step projects the next batch of logs and returns how many it consumed.
func (ix *Indexer) Step(ctx context.Context) (int, error) {
	logs := completeTxs(ix.deps.Source.Logs(ix.cursor, ix.cfg.BatchSize), ix.cfg.BatchSize)
	if len(logs) == 0 {
		ix.deps.Metrics.SetIndexerPosition(ix.cursor, ix.deps.Source.LogCount())
		return 0, nil
	}

	records, views, err := ix.projector.Apply(ctx, logs)
	if err != nil {
		return 0, err
	}
	if err := ix.deps.Events.InsertBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("indexer: %w", err)
	}
	for _, v := range views {
		if err := ix.deps.Listings.Upsert(ctx, v); err != nil {
			return 0, fmt.Errorf("indexer: %w", err)
		}
	}
	last := logs[len(logs)-1].Seq
	if err := ix.deps.Cursors.Set(ctx, ix.cfg.Name, last); err != nil {
		return 0, fmt.Errorf("indexer: %w", err)
	}
	ix.cursor = last

	// Everything below is best effort: the projection is already durable.
	for _, v := range views {
		if ix.deps.Cache == nil {
			break
		}
		if err := ix.deps.Cache.Set(ctx, v); err != nil {
			ix.logger.Warn("cache listing failed", slog.String("listing", v.ID), slog.String("error", err.Error()))
		}
	}
	for _, rec := range records {
		ix.publish(ctx, rec)
		for _, h := range ix.deps.Handlers {
			if err := h.HandleEvent(ctx, rec); err != nil {
				ix.deps.Metrics.ObserveNotifyFailure()
				ix.logger.Warn("event handler failed",
					slog.String("event", rec.Name),
					slog.Uint64("seq", rec.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
		ix.deps.Metrics.ObserveIndexed(rec.Name)
	}
	ix.deps.Metrics.SetIndexerPosition(ix.cursor, ix.deps.Source.LogCount())

	ix.logger.Debug("batch projected",
		slog.Int("events", len(records)),
		slog.Int("listings", len(views)),
		slog.Uint64("cursor", ix.cursor),
	)
	return len(logs), nil
}

func (ix *Indexer) publish(ctx context.Context, rec domain.EventRecord) {
	if ix.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		ix.logger.Warn("encode event failed", slog.Uint64("seq", rec.Seq), slog.String("error", err.Error()))
		return
	}
	channels := []string{domain.ChannelEvents}
	if rec.ListingID != "" {
		channels = append(channels, domain.ListingChannel(rec.ListingID))
	}
	for _, ch := range channels {
		if err := ix.deps.Bus.Publish(ctx, ch, payload); err != nil {
			ix.logger.Warn("publish event failed", slog.String("channel", ch), slog.String("error", err.Error()))
		}
	}
	if err := ix.deps.Bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
		ix.logger.Warn("stream append failed", slog.String("error", err.Error()))
	}
}

// completeTxs drops a trailing partial transaction from a full batch so
// that every transaction is projected in one piece. A batch holding a single
// oversized transaction is returned whole.
func completeTxs(logs []chain.Log, limit int) []chain.Log {
	if len(logs) < limit || len(logs) == 0 {
		return logs
	}
	tail := logs[len(logs)-1].TxHash
	cut := len(logs)
	for cut > 0 && logs[cut-1].TxHash == tail {
		cut--
	}
	if cut == 0 {
		return logs
	}
	return logs[:cut]
}

// Run projects the log until ctx is done. With a lock manager configured
// only the replica holding the lease projects; the others wait for it.
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		lease, err := ix.waitForLease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = ix.lead(ctx, lease)
		if lease != nil {
			lease.Release()
		}
		if ctx.Err() != nil {
			ix.logger.Info("indexer stopped", slog.Uint64("cursor", ix.cursor))
			return nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return err
		}
		ix.logger.Warn("indexer lease lost, waiting to reacquire")
	}
}

func (ix *Indexer) waitForLease(ctx context.Context) (domain.Lease, error) {
	if ix.deps.Locks == nil {
		return nil, nil
	}
	for {
		lease, err := ix.deps.Locks.AcquireLease(ctx, ix.cfg.Name, ix.cfg.LockTTL)
		if err == nil {
			ix.logger.Info("indexer lease acquired")
			return lease, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			ix.logger.Warn("acquire lease failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ix.cfg.LockTTL / 3):
		}
	}
}

// lead runs the projection and archive loops while the lease is held.
func (ix *Indexer) lead(ctx context.Context, lease domain.Lease) error {
	if err := ix.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ix.projectLoop(ctx, lease)
	})
	if ix.deps.Archiver != nil && ix.cfg.ArchiveEvery > 0 {
		g.Go(func() error {
			return ix.archiveLoop(ctx)
		})
	}
	return g.Wait()
}

func (ix *Indexer) projectLoop(ctx context.Context, lease domain.Lease) error {
	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()
	renewed := time.Now()

	for {
		// Drain whatever is pending before sleeping.
		for {
			n, err := ix.Step(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ix.logger.Error("projection step failed", slog.String("error", err.Error()))
				break
			}
			if n == 0 {
				break
			}
		}

		if lease != nil && time.Since(renewed) >= ix.cfg.LockTTL/3 {
			if err := lease.Extend(ctx, ix.cfg.LockTTL); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			renewed = time.Now()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (ix *Indexer) archiveLoop(ctx context.Context) error {
	ticker := time.NewTicker(ix.cfg.PollInterval * 10)
	defer ticker.Stop()
	for {
		if err := ix.ArchivePending(ctx); err != nil && ctx.Err() == nil {
			ix.logger.Error("archive failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ArchivePending archives every complete segment behind the projection
// cursor that has not been archived yet.
func (ix *Indexer) ArchivePending(ctx context.Context) error {
	if ix.deps.Archiver == nil || ix.cfg.ArchiveEvery == 0 {
		return nil
	}
	done, err := ix.deps.Cursors.Get(ctx, ix.archiveCursor())
	if err != nil {
		return fmt.Errorf("indexer: load archive cursor: %w", err)
	}
	projected, err := ix.deps.Cursors.Get(ctx, ix.cfg.Name)
	if err != nil {
		return fmt.Errorf("indexer: load cursor: %w", err)
	}
	for done+ix.cfg.ArchiveEvery <= projected {
		to := done + ix.cfg.ArchiveEvery
		n, err := ix.deps.Archiver.ArchiveSegment(ctx, done, to)
		if err != nil {
			return err
		}
		if err := ix.deps.Cursors.Set(ctx, ix.archiveCursor(), to); err != nil {
			return fmt.Errorf("indexer: store archive cursor: %w", err)
		}
		ix.logger.Info("log segment archived", slog.Uint64("from", done+1), slog.Uint64("to", to), slog.Int("events", n))
		done = to
	}
	return nil
}
