package drafts

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/clawdops/outreach-desk/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Counts is the per-platform folder tally.
type Counts struct {
	Pending  int `json:"pending"`
	Done     int `json:"done"`
	Declined int `json:"declined"`
}

// Listing is every accepted pending draft, newest first, with per-platform
// counts. Pending counts only accepted drafts.
type Listing struct {
	Drafts      []Draft             `json:"drafts"`
	Stats       map[Platform]Counts `json:"stats"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// ForPlatform returns a copy of l restricted to p.
func (l *Listing) ForPlatform(p Platform) *Listing {
	out := &Listing{
		Drafts:      []Draft{},
		Stats:       map[Platform]Counts{p: l.Stats[p]},
		GeneratedAt: l.GeneratedAt,
	}
	for _, d := range l.Drafts {
		if d.Platform == p {
			out.Drafts = append(out.Drafts, d)
		}
	}
	return out
}

// ListingCache stores serialised listings. store.Cache satisfies it.
type ListingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const listingCacheKey = "outreach:listing"

// Service builds listings and reads single drafts.
type Service struct {
	store     *Store
	extractor *Extractor
	platforms []Platform
	cache     ListingCache
	cacheTTL  time.Duration
	group     singleflight.Group
	// generation is bumped by Invalidate; a scan that saw it change is stale.
	generation atomic.Uint64
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
}

func NewService(store *Store, extractor *Extractor, platforms []Platform, cache ListingCache, cacheTTL time.Duration, m *metrics.Metrics, logger *zap.SugaredLogger) *Service {
	if len(platforms) == 0 {
		platforms = AllPlatforms
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:     store,
		extractor: extractor,
		platforms: platforms,
		cache:     cache,
		cacheTTL:  cacheTTL,
		metrics:   m,
		logger:    logger,
	}
}

// Platforms is the configured platform set.
func (s *Service) Platforms() []Platform {
	return s.platforms
}

// Ready checks the draft store. ListAll cannot serve this purpose since it
// degrades to an empty listing.
func (s *Service) Ready() error {
	return s.store.Check()
}

// Enabled reports whether p is configured.
func (s *Service) Enabled(p Platform) bool {
	for _, q := range s.platforms {
		if q == p {
			return true
		}
	}
	return false
}

// ListAll returns the aggregate listing. Concurrent callers share one scan and
// results are cached for the configured TTL.
func (s *Service) ListAll(ctx context.Context) (*Listing, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		var cached Listing
		if err := s.cache.Get(ctx, listingCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	v, err, _ := s.group.Do(listingCacheKey, func() (interface{}, error) {
		return s.scanAndCache(context.WithoutCancel(ctx)), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Listing), nil
}

const maxScanAttempts = 3

// scanAndCache scans and stores the listing unless an Invalidate lands while
// it runs, in which case the result is discarded and the scan repeated.
func (s *Service) scanAndCache(ctx context.Context) *Listing {
	var listing *Listing
	for attempt := 0; attempt < maxScanAttempts; attempt++ {
		gen := s.generation.Load()
		listing = s.scan(ctx)
		if s.generation.Load() != gen {
			continue
		}
		if s.cache == nil || s.cacheTTL <= 0 {
			return listing
		}
		if err := s.cache.Set(ctx, listingCacheKey, listing, s.cacheTTL); err != nil {
			s.logger.Warnw("Failed to cache listing", "error", err)
			return listing
		}
		if s.generation.Load() == gen {
			return listing
		}
		// invalidated while storing; the entry may postdate the delete
		if err := s.cache.Delete(ctx, listingCacheKey); err != nil {
			s.logger.Warnw("Failed to drop stale listing", "error", err)
		}
	}
	s.logger.Warnw("Listing kept changing during scan; serving uncached result", "attempts", maxScanAttempts)
	return listing
}

// Invalidate drops the cached listing and marks in-flight scans stale.
func (s *Service) Invalidate(ctx context.Context) {
	s.generation.Add(1)
	s.group.Forget(listingCacheKey)
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, listingCacheKey); err != nil {
		s.logger.Warnw("Failed to invalidate listing cache", "error", err)
	}
}

func (s *Service) scan(ctx context.Context) *Listing {
	start := time.Now()
	listing := &Listing{
		Drafts:      []Draft{},
		Stats:       make(map[Platform]Counts, len(s.platforms)),
		GeneratedAt: start.UTC(),
	}
	skipped := 0

	for _, p := range s.platforms {
		var counts Counts

		ids, err := s.store.ListPending(p)
		if err != nil {
			s.logger.Warnw("Failed to list pending drafts", "platform", p, "error", err)
		}
		for _, fileID := range ids {
			raw, err := s.store.ReadRaw(p, fileID)
			if err != nil {
				// moved or unreadable since the directory scan
				if !errors.Is(err, ErrNotFound) {
					s.logger.Warnw("Skipping unreadable draft", "platform", p, "file", fileID, "error", err)
				}
				skipped++
				continue
			}
			d := s.extractor.Extract(p, fileID, raw.Content, raw.ModTime)
			if !d.Accepted() {
				s.logger.Debugw("Skipping draft without body or caption", "draft", d.ID)
				skipped++
				continue
			}
			listing.Drafts = append(listing.Drafts, d)
			counts.Pending++
		}

		if counts.Done, err = s.store.Count(p, Done); err != nil {
			s.logger.Warnw("Failed to count done drafts", "platform", p, "error", err)
		}
		if counts.Declined, err = s.store.Count(p, Declined); err != nil {
			s.logger.Warnw("Failed to count declined drafts", "platform", p, "error", err)
		}
		listing.Stats[p] = counts
	}

	sort.SliceStable(listing.Drafts, func(i, j int) bool {
		a, b := listing.Drafts[i], listing.Drafts[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	s.metrics.RecordListing(ctx, time.Since(start), skipped)
	return listing
}

// Get extracts one pending draft. Unlike ListAll it returns drafts that fail
// the acceptance check.
func (s *Service) Get(ctx context.Context, rawID string) (Draft, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return Draft{}, err
	}
	raw, err := s.store.ReadRaw(id.Platform, id.FileID)
	if err != nil {
		return Draft{}, err
	}
	return s.extractor.Extract(id.Platform, id.FileID, raw.Content, raw.ModTime), nil
}
