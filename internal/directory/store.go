package directory

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "directory"

// Store caches the directory snapshot process-wide. Readers always get a
// complete snapshot: a refresh builds a new one and swaps the pointer.
type Store struct {
	source Source
	opts   BuildOptions
	ttl    time.Duration
	logger *zap.Logger

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	now     func() time.Time
}

// NewStore creates a Store. A zero ttl keeps the snapshot until Refresh or
// Invalidate is called.
func NewStore(source Source, opts BuildOptions, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		source: source,
		opts:   opts,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Snapshot returns the cached snapshot, loading it when absent or expired.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil && !s.expired(snap) {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Refresh rebuilds the snapshot from the source. Concurrent callers share a
// single load that outlives any one caller's cancellation; each caller stops
// waiting when its own ctx is done. On failure the previous snapshot, if any,
// stays in place.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	ch := s.group.DoChan(refreshKey, func() (any, error) {
		return s.load(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("directory refresh shared with a concurrent caller")
		}
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate drops the cached snapshot; the next Snapshot call reloads.
func (s *Store) Invalidate() {
	s.current.Store(nil)
}

// Current returns the cached snapshot without loading. It may be nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

func (s *Store) load(ctx context.Context) (*Snapshot, error) {
	name := s.source.Name()
	started := s.now()

	raw, err := s.source.Load(ctx)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}

	snap, err := Build(raw, s.opts)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	snap.Source = name
	snap.LoadedAt = s.now()

	s.current.Store(snap)

	s.logger.Info("directory loaded",
		zap.String("source", name),
		zap.Int("directors_open", len(snap.Directors)),
		zap.Int("directors_closed", len(snap.Closed)),
		zap.Int("providers", len(snap.Providers)),
		zap.Int("metadata_by_email", snap.Merge.Matches[MatchEmail]),
		zap.Int("metadata_by_name", snap.Merge.Matches[MatchExactName]+snap.Merge.Matches[MatchNameLike]),
		zap.Int("metadata_unmatched", snap.Merge.Matches[MatchNone]),
		zap.Duration("took", snap.LoadedAt.Sub(started)),
	)
	if len(snap.Merge.Ambiguous) > 0 {
		s.logger.Warn("ambiguous metadata name matches resolved by tie-break",
			zap.Strings("directors", snap.Merge.Ambiguous),
		)
	}

	return snap, nil
}

func (s *Store) expired(snap *Snapshot) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(snap.LoadedAt) >= s.ttl
}
