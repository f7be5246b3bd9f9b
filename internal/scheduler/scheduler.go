// Package scheduler runs the background jobs of the serve command: a
// periodic refresh that re-queries known servers and a daily prune of
// servers that went quiet.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/config"
	intnet "github.com/ottdwire/ottdwire/internal/network"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// Querier fetches master lists and queries game servers.
type Querier interface {
	MasterList(ctx context.Context, typ protocol.ServerListRequestType) (protocol.ServerList, error)
	Scan(ctx context.Context, addrs []netip.AddrPort) []intnet.ScanResult
}

// Lister fetches the Game Coordinator listing.
type Lister interface {
	Listing(ctx context.Context, revision string) (*intnet.Listing, error)
}

// Store is the part of the server registry the jobs need.
type Store interface {
	Addresses(ctx context.Context) ([]string, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators of a Scheduler. Any of them may be nil, which
// disables the jobs depending on it.
type Deps struct {
	Querier     Querier
	Coordinator Lister
	Store       Store
}

// RefreshStats summarizes one refresh run.
type RefreshStats struct {
	Master   int // endpoints returned by the master server
	Listed   int // servers in the coordinator listing
	Scanned  int
	Answered int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    *config.Config
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// NewScheduler creates a scheduler for the jobs enabled in cfg.
func NewScheduler(cfg *config.Config, deps Deps) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: util.ComponentLogger("scheduler"),
	}
}

// Start runs the enabled jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	sched := s.cfg.GetSchedule()
	storage := s.cfg.GetStorage()

	if sched.RefreshInterval() > 0 {
		go s.runRefreshLoop(ctx, sched.RefreshInterval())
	}
	if s.deps.Store != nil && storage.RetentionDays > 0 {
		go s.runPruneLoop(ctx)
	}

	s.logger.Info().
		Dur("refresh_interval", sched.RefreshInterval()).
		Str("prune_time", sched.PruneTime).
		Msg("scheduler started")
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("refresh incomplete")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh collects endpoints from the configured sources and queries them
// all. Discovery events from the queries keep the registry current. Source
// failures are returned joined; the remaining sources are still used.
func (s *Scheduler) Refresh(ctx context.Context) (RefreshStats, error) {
	sched := s.cfg.GetSchedule()
	var (
		stats   RefreshStats
		errs    []error
		targets = make(map[netip.AddrPort]struct{})
	)

	if sched.RefreshMaster && s.deps.Querier != nil {
		for _, typ := range []protocol.ServerListRequestType{protocol.RequestIPv4, protocol.RequestIPv6} {
			list, err := s.deps.Querier.MasterList(ctx, typ)
			if err != nil {
				errs = append(errs, fmt.Errorf("master list %s: %w", typ, err))
				continue
			}
			for _, a := range list.Addrs() {
				targets[a] = struct{}{}
			}
			stats.Master += list.Len()
		}
	}

	// Listed servers are recorded from the listing itself; their
	// connection strings need not be plain endpoints.
	if sched.RefreshListing && s.deps.Coordinator != nil {
		listing, err := s.deps.Coordinator.Listing(ctx, sched.ListingRevision)
		if err != nil {
			errs = append(errs, fmt.Errorf("coordinator listing: %w", err))
		} else {
			stats.Listed = len(listing.Servers)
		}
	}

	if s.deps.Store != nil {
		addrs, err := s.deps.Store.Addresses(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("stored servers: %w", err))
		}
		for _, a := range addrs {
			if ap, err := netip.ParseAddrPort(a); err == nil {
				targets[ap] = struct{}{}
			}
		}
	}

	if len(targets) > 0 && s.deps.Querier != nil {
		addrs := make([]netip.AddrPort, 0, len(targets))
		for a := range targets {
			addrs = append(addrs, a)
		}
		slices.SortFunc(addrs, func(a, b netip.AddrPort) int { return a.Compare(b) })

		for _, r := range s.deps.Querier.Scan(ctx, addrs) {
			stats.Scanned++
			if r.Err == nil {
				stats.Answered++
			}
		}
	}

	s.logger.Info().
		Int("master", stats.Master).
		Int("listed", stats.Listed).
		Int("scanned", stats.Scanned).
		Int("answered", stats.Answered).
		Msg("refresh completed")
	return stats, errors.Join(errs...)
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		next := s.cfg.GetSchedule().NextPrune(s.now())
		wait := next.Sub(s.now())

		s.logger.Info().Time("next_run", next).Dur("sleep", wait).Msg("prune scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("prune failed")
			}
		}
	}
}

// Prune deletes servers not seen within the retention period.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	if s.deps.Store == nil {
		return 0, errors.New("storage is not enabled")
	}
	days := s.cfg.GetStorage().RetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.deps.Store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned stale servers")
	return n, nil
}
