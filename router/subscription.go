package router

import "github.com/layer-3/walletkit/core"

// Subscription streams request snapshots as they are proposed and settled.
// Slow readers miss updates rather than blocking the router.
type Subscription struct {
	C     <-chan PendingRequest
	ch    chan PendingRequest
	kinds map[core.RequestKind]bool
	id    int
	r     *Router
}

// Subscribe returns a subscription for the given kinds, or all kinds when
// none are given.
func (r *Router) Subscribe(kinds ...core.RequestKind) *Subscription {
	ch := make(chan PendingRequest, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, r: r}
	if len(kinds) > 0 {
		s.kinds = make(map[core.RequestKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return s
	}
	r.nextSub++
	s.id = r.nextSub
	r.subs[s.id] = s
	return s
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.subs[s.id]; ok {
		delete(s.r.subs, s.id)
		close(s.ch)
	}
}

func (r *Router) notify(req PendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.kinds != nil && !s.kinds[req.Kind] {
			continue
		}
		select {
		case s.ch <- req:
		default:
			r.logger.WithField("request_id", req.ID).Warn("subscriber too slow, dropping update")
		}
	}
}
