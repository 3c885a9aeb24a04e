// Package connlimit guards connect attempts with a per-account cooldown:
// one attempt per window, rejections carry the remaining wait time.
package connlimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	accounts map[string]*rate.Limiter
}

func New(window time.Duration) *Limiter {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Limiter{
		window:   window,
		accounts: make(map[string]*rate.Limiter),
	}
}

// TryReserve reports whether a connect attempt for the account may start
// now. On success the reservation is recorded immediately, so a concurrent
// attempt for the same account cannot also pass. On rejection the remaining
// cooldown is returned.
func (l *Limiter) TryReserve(accountID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.accounts[accountID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window), 1)
		l.accounts[accountID] = lim
	}

	r := lim.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Reset forgets the reservation state for one account. Used by explicit
// disconnects so a manual reconnect is never penalized.
func (l *Limiter) Reset(accountID string) {
	l.mu.Lock()
	delete(l.accounts, accountID)
	l.mu.Unlock()
}

// ResetAll drops every reservation. Used at process shutdown.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	l.accounts = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}
