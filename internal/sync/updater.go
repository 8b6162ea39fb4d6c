package sync

import (
	"context"
	"errors"
	"time"

	"github.com/notesreview/notesync/internal/notes"
	"github.com/notesreview/notesync/internal/watermark"
	"go.uber.org/zap"
)

var errMissingFetcher = errors.New("change fetcher is required")

const updateFailureType = "update_error"

// NotesEpoch is the day upstream introduced notes; it is the lower bound
// for a database that has never been updated.
var NotesEpoch = time.Date(2013, time.April, 23, 0, 0, 0, 0, time.UTC)

// ChangeFetcher fetches one page of changed notes for a time window.
type ChangeFetcher interface {
	Fetch(ctx context.Context, from, to time.Time, limit int) ([]notes.Note, int, error)
}

// UpdaterConfig carries the dependencies and tuning of an Updater. Drift
// tolerance and pace are empirically chosen upstream constants, kept
// configurable on purpose.
type UpdaterConfig struct {
	Fetcher    ChangeFetcher
	Writer     *Writer
	Watermarks *watermark.Store
	Clock      func() time.Time
	Logger     *zap.Logger
	// DriftTolerance is how far below the current upper bound a reported
	// change date may lag before it is distrusted. Defaults to one hour.
	DriftTolerance time.Duration
	// Pace is the expected interval between upstream changes, used only
	// to size requests. Defaults to fifteen seconds.
	Pace time.Duration
	// MaxLimit caps the page size at the API maximum. Defaults to 10000.
	MaxLimit int
	// LimitOverride, when positive, replaces the computed page-size hint.
	LimitOverride int
}

// Updater catches the store up with upstream by fetching shrinking time
// windows until the watermark is reached or a page produces no changes.
// Runs are strictly sequential; two updaters must never run against the
// same store at once (external scheduling contract, not enforced here).
type Updater struct {
	fetcher       ChangeFetcher
	writer        *Writer
	watermarks    *watermark.Store
	clock         func() time.Time
	logger        *zap.Logger
	drift         time.Duration
	pace          time.Duration
	maxLimit      int
	limitOverride int
}

// NewUpdater validates the configuration and returns an Updater.
func NewUpdater(cfg UpdaterConfig) (*Updater, error) {
	if cfg.Fetcher == nil {
		return nil, newEngineError(opUpdateRun, "missing_fetcher", errMissingFetcher)
	}
	if cfg.Writer == nil {
		return nil, newEngineError(opUpdateRun, "missing_writer", errMissingWriter)
	}
	if cfg.Watermarks == nil {
		return nil, newEngineError(opUpdateRun, "missing_watermarks", errMissingWatermarks)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	drift := cfg.DriftTolerance
	if drift <= 0 {
		drift = time.Hour
	}
	pace := cfg.Pace
	if pace <= 0 {
		pace = 15 * time.Second
	}
	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 10000
	}
	return &Updater{
		fetcher:       cfg.Fetcher,
		writer:        cfg.Writer,
		watermarks:    cfg.Watermarks,
		clock:         clock,
		logger:        logger,
		drift:         drift,
		pace:          pace,
		maxLimit:      maxLimit,
		limitOverride: cfg.LimitOverride,
	}, nil
}

// UpdateResult summarizes a completed update run.
type UpdateResult struct {
	Stats Stats
	// LowerBound is the watermark the run started from.
	LowerBound time.Time
	// UpperBound is the run's start instant, persisted as the new
	// watermark on success.
	UpperBound time.Time
	// Limit is the page size the run requested.
	Limit int
	// Pages is the number of windows fetched.
	Pages int
}

// Run executes the update loop. Any returned error is fatal: the
// watermark is left untouched so a later re-run observes the missed
// data, which is safe because diffing is idempotent.
func (u *Updater) Run(ctx context.Context) (UpdateResult, error) {
	var result UpdateResult

	lower, found, err := u.watermarks.Read(watermark.SlotUpdate)
	if err != nil {
		return result, newEngineError(opUpdateRun, "watermark_read_failed", err)
	}
	if !found {
		lower = NotesEpoch
	}

	start := u.clock().UTC().Truncate(time.Second)
	result.LowerBound = lower
	result.UpperBound = start
	result.Limit = u.pageLimit(start.Sub(lower))

	u.logger.Info("update run starting",
		zap.Time("lower_bound", lower),
		zap.Time("upper_bound", start),
		zap.Int("limit", result.Limit))

	// The upper bound shrinks towards the watermark; the bound persisted
	// at the end stays the run's start instant, the latest moment this
	// run fully covered.
	upper := start
	for upper.After(lower) {
		fetched, rawCount, err := u.fetcher.Fetch(ctx, lower, upper, result.Limit)
		if err != nil {
			return result, newEngineError(opUpdateRun, "fetch_failed", err)
		}
		result.Pages++

		stats, err := u.writer.Apply(ctx, updateFailureType, fetched)
		if err != nil {
			return result, err
		}
		result.Stats.Add(stats)

		u.logger.Info("update window processed",
			zap.Time("window_to", upper),
			zap.Int("features", rawCount),
			zap.Int("matched", stats.Matched))

		// A page of nothing but no-op diffs means upstream has no more
		// pending changes, even if timestamps remain above the watermark.
		if stats.Matched == rawCount {
			break
		}

		oldest := oldestChange(fetched, upper, u.drift)
		if oldest == nil {
			break
		}
		upper = *oldest
	}

	if err := u.watermarks.Write(watermark.SlotUpdate, start); err != nil {
		return result, newEngineError(opUpdateRun, "watermark_write_failed", err)
	}
	return result, nil
}

func (u *Updater) pageLimit(elapsed time.Duration) int {
	if u.limitOverride > 0 {
		return min(u.limitOverride, u.maxLimit)
	}
	hint := int(elapsed/u.pace) + 1
	if hint > u.maxLimit {
		return u.maxLimit
	}
	return hint
}

// oldestChange picks the earliest last-change date of the page as the
// next upper bound. Upstream reports notes with hidden comments as
// freshly changed even though their visible thread is old, so any date
// lagging the current bound by more than the drift tolerance is
// distrusted; if nothing passes, the window stops shrinking and the run
// ends.
func oldestChange(fetched []notes.Note, upper time.Time, drift time.Duration) *time.Time {
	var oldest *time.Time
	for _, note := range fetched {
		if note.Deletable() {
			continue
		}
		changed := note.UpdatedAt
		if !changed.Before(upper) || upper.Sub(changed) > drift {
			continue
		}
		if oldest == nil || changed.Before(*oldest) {
			value := changed
			oldest = &value
		}
	}
	return oldest
}
