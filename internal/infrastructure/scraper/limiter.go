package scraper

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter keeps the monitor polite towards a single site: each host gets
// a token bucket and a cap on requests in flight.
type HostLimiter struct {
	mu       sync.Mutex
	hosts    map[string]*hostSlot
	rps      rate.Limit
	burst    int
	inFlight int
}

type hostSlot struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewHostLimiter creates a limiter. rps <= 0 disables rate limiting and
// inFlight <= 0 disables the concurrency cap.
func NewHostLimiter(rps float64, burst, inFlight int) *HostLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		hosts:    make(map[string]*hostSlot),
		rps:      limit,
		burst:    burst,
		inFlight: inFlight,
	}
}

func (hl *HostLimiter) slot(host string) *hostSlot {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	s, ok := hl.hosts[host]
	if !ok {
		s = &hostSlot{limiter: rate.NewLimiter(hl.rps, hl.burst)}
		if hl.inFlight > 0 {
			s.sem = make(chan struct{}, hl.inFlight)
		}
		hl.hosts[host] = s
	}
	return s
}

// Acquire blocks until a request to host may start. The returned release
// func must be called once the request is done.
func (hl *HostLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	s := hl.slot(host)
	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	release := func() {
		if s.sem != nil {
			<-s.sem
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	return release, nil
}
