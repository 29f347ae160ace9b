package http

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"billing/internal/billing"
	"billing/internal/cache"
	"billing/internal/core"
	"billing/internal/log"
	"billing/internal/session"
)

const (
	billsKey = "bills"
	statsKey = "stats"
)

// overview is what the dashboard shows on first load.
type overview struct {
	Bills []core.BillingRecord
	Stats core.UserStats
	Email string
}

// loadOverview fetches bills, stats and the backend's view of the user
// concurrently under one read timeout. Only a failed bill list fails the
// whole overview: stats fall back to local counters and the email to the
// session's.
func (s *Server) loadOverview(ctx context.Context, sess session.Session) (overview, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	ov := overview{Email: sess.Email}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bills, err := s.loadBills(gctx, sess)
		ov.Bills = bills
		return err
	})
	g.Go(func() error {
		stats, err := s.loadStats(gctx, sess)
		ov.Stats = stats
		return err
	})
	g.Go(func() error {
		status, err := s.client(sess).CheckAuth(gctx)
		if err != nil {
			log.FromContext(ctx).DebugContext(ctx, "Auth check failed", log.FieldError, err)
			return nil
		}
		if status.Authenticated && status.User.Email != "" {
			ov.Email = status.User.Email
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return overview{Email: sess.Email}, err
	}
	return ov, nil
}

// loadBills returns the session's bills from the cache or the API.
// Concurrent misses for one session share a single API call.
func (s *Server) loadBills(ctx context.Context, sess session.Session) ([]core.BillingRecord, error) {
	key := cache.Key(sess.ID, billsKey)
	if bills, ok := s.bills.Get(key); ok {
		log.FromContext(ctx).DebugContext(ctx, "Bills cache hit", log.FieldCount, len(bills))
		// Return a copy to prevent external mutation
		return slices.Clone(bills), nil
	}

	gen := s.gens.current(sess.ID)
	v, err := s.sharedRead(ctx, key, func(ctx context.Context) (any, error) {
		bills, err := s.client(sess).ListBills(ctx)
		if err != nil {
			return nil, fmt.Errorf("list bills: %w", err)
		}
		s.gens.storeIf(sess.ID, gen, func() { s.bills.Set(key, bills) })
		return bills, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]core.BillingRecord)), nil
}

// loadStats returns the session's counters. When /user-stats fails they are
// computed from the bill list instead.
func (s *Server) loadStats(ctx context.Context, sess session.Session) (core.UserStats, error) {
	key := cache.Key(sess.ID, statsKey)
	if stats, ok := s.stats.Get(key); ok {
		return stats, nil
	}

	gen := s.gens.current(sess.ID)
	v, err := s.sharedRead(ctx, key, func(ctx context.Context) (any, error) {
		stats, err := s.client(sess).UserStats(ctx)
		if err != nil {
			log.FromContext(ctx).WarnContext(ctx, "User stats unavailable, computing from bills",
				log.FieldUserID, sess.UserID,
				log.FieldError, err)
			bills, berr := s.loadBills(ctx, sess)
			if berr != nil {
				return core.UserStats{}, fmt.Errorf("user stats: %w", err)
			}
			stats = core.ComputeStats(bills)
		}
		s.gens.storeIf(sess.ID, gen, func() { s.stats.Set(key, stats) })
		return stats, nil
	})
	if err != nil {
		return core.UserStats{}, err
	}
	return v.(core.UserStats), nil
}

// sharedRead runs fetch once for every concurrent caller of key. The fetch
// outlives the caller that started it and is bounded by readTimeout instead;
// each caller stops waiting when its own context ends.
func (s *Server) sharedRead(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(detached, readTimeout)
		defer cancel()
		return fetch(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// dropCached forgets every cached read of a session, so the next view reads
// the API again. Reads still in flight are not stored when they finish.
func (s *Server) dropCached(sessionID string) {
	if sessionID == "" {
		return
	}
	prefix := cache.SessionPrefix(sessionID)
	var n int
	s.gens.advance(sessionID, func() {
		n = s.bills.DeletePrefix(prefix) + s.stats.DeletePrefix(prefix)
		s.reads.Forget(cache.Key(sessionID, billsKey))
		s.reads.Forget(cache.Key(sessionID, statsKey))
	})
	if n > 0 {
		s.logger.Debug("Session cache invalidated", log.FieldSessionID, sessionID, log.FieldCount, n)
	}
}

// endSession drops a finished session's cached reads and write counter.
func (s *Server) endSession(sessionID string) {
	s.dropCached(sessionID)
	s.gens.forget(sessionID)
}

// generations counts cache invalidations per session. A read stores its
// result only if no invalidation happened since it started.
type generations struct {
	mu sync.Mutex
	m  map[string]uint64
}

func (g *generations) current(id string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.m[id]
}

// storeIf runs store while id is still at gen.
func (g *generations) storeIf(id string, gen uint64, store func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.m[id] != gen {
		return false
	}
	store()
	return true
}

// advance moves id to its next generation and runs drop under the same lock,
// so no stale read can store in between.
func (g *generations) advance(id string, drop func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.m == nil {
		g.m = make(map[string]uint64)
	}
	g.m[id]++
	drop()
}

func (g *generations) forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, id)
}

// apiMessage is the text shown inline for a failed API call. Transport
// errors are summarized; their details only go to the logs.
func apiMessage(action string, err error) string {
	var httpErr *billing.HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return action + ": the billing service did not answer in time"
	case errors.Is(err, billing.ErrUnauthorized):
		return action + ": your session is no longer valid, please log in again"
	case errors.As(err, &httpErr):
		return action + ": " + httpErr.Error()
	default:
		return action + ": the billing service is unreachable"
	}
}

// errorType classifies a failed API call for the logs.
func errorType(err error) string {
	var httpErr *billing.HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case errors.Is(err, billing.ErrUnauthorized):
		return log.ErrorTypeAuth
	case errors.Is(err, billing.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.As(err, &httpErr):
		return log.ErrorTypeUpstream
	default:
		return log.ErrorTypeNetwork
	}
}
