package bot

import (
	"sort"
	"sync"
)

const defaultCompletedLimit = 1000

// Store owns every trade. Callers get copies; the only mutations are the
// reserve/commit open path and the begin/finish close path.
type Store struct {
	mu        sync.RWMutex
	open      map[string]*Trade
	reserved  map[string]bool // pair -> open in progress
	closing   map[string]bool // id -> close in progress
	completed []Trade
	maxDone   int
}

func NewStore(maxCompleted int) *Store {
	if maxCompleted <= 0 {
		maxCompleted = defaultCompletedLimit
	}
	return &Store{
		open:     make(map[string]*Trade),
		reserved: make(map[string]bool),
		closing:  make(map[string]bool),
		maxDone:  maxCompleted,
	}
}

// Reserve claims a pair ahead of the network calls of an open. The reservation
// counts against limit and blocks the pair until Commit or Release.
func (s *Store) Reserve(pair string, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busyLocked(pair) {
		return ErrPairBusy
	}
	if limit > 0 && len(s.open)+len(s.reserved) >= limit {
		return ErrConcurrencyLimit
	}
	s.reserved[pair] = true
	return nil
}

func (s *Store) Release(pair string) {
	s.mu.Lock()
	delete(s.reserved, pair)
	s.mu.Unlock()
}

// Commit turns the pair's reservation into an open trade
func (s *Store) Commit(t Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, t.Pair)
	t.Status = StatusOpen
	s.open[t.ID] = &t
}

// Open reserves and commits in one step
func (s *Store) Open(t Trade, limit int) error {
	if err := s.Reserve(t.Pair, limit); err != nil {
		return err
	}
	s.Commit(t)
	return nil
}

// BeginClose claims an open trade for closing. Only the first caller wins.
func (s *Store) BeginClose(id string) (Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.open[id]
	if !ok || s.closing[id] {
		return Trade{}, false
	}
	s.closing[id] = true
	return *t, true
}

// AbortClose drops a close claim so the trade can be closed again
func (s *Store) AbortClose(id string) {
	s.mu.Lock()
	delete(s.closing, id)
	s.mu.Unlock()
}

// FinishClose applies the closing state and moves the trade to the completed list
func (s *Store) FinishClose(id string, c Closing) (Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.open[id]
	if !ok {
		return Trade{}, false
	}

	t.Status = StatusClosed
	t.ExitPrice = c.ExitPrice
	t.ClosedAt = c.ClosedAt
	t.ResultPct = c.ResultPct
	t.Profit = c.Profit
	t.Reason = c.Reason
	t.CloseOrderID = c.CloseOrderID
	t.ExitEstimated = c.ExitEstimated
	t.ProfitApproximate = c.ProfitApproximate

	delete(s.open, id)
	delete(s.closing, id)
	s.completed = append(s.completed, *t)
	if len(s.completed) > s.maxDone {
		s.completed = s.completed[len(s.completed)-s.maxDone:]
	}
	return *t, true
}

// Close runs the whole close transition; a second call is a no-op returning false
func (s *Store) Close(id string, c Closing) (Trade, bool) {
	if _, ok := s.BeginClose(id); !ok {
		return Trade{}, false
	}
	return s.FinishClose(id, c)
}

// OpenTrades returns copies ordered by open time
func (s *Store) OpenTrades() []Trade {
	s.mu.RLock()
	out := make([]Trade, 0, len(s.open))
	for _, t := range s.open {
		out = append(out, *t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Completed returns up to limit closed trades, newest first
func (s *Store) Completed(limit int) []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.completed)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.completed[i])
	}
	return out
}

// HasOpen reports whether pair has an open or opening trade
func (s *Store) HasOpen(pair string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busyLocked(pair)
}

func (s *Store) busyLocked(pair string) bool {
	if s.reserved[pair] {
		return true
	}
	for _, t := range s.open {
		if t.Pair == pair {
			return true
		}
	}
	return false
}

// CountOpen counts open and opening trades
func (s *Store) CountOpen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open) + len(s.reserved)
}

// Get finds a trade by id among open then completed trades
func (s *Store) Get(id string) (Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.open[id]; ok {
		return *t, true
	}
	for i := len(s.completed) - 1; i >= 0; i-- {
		if s.completed[i].ID == id {
			return s.completed[i], true
		}
	}
	return Trade{}, false
}
