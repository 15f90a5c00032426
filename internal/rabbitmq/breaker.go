package rabbitmq

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker stops the publish path from waiting on an unreachable broker for every
// request. After failThreshold consecutive failures it rejects calls for openFor,
// then lets a single trial call through.
type Breaker struct {
	mu               sync.Mutex
	st               breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	trialInFlight    bool

	now func() time.Time
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

// Allow reports whether a call may proceed. In the open state the first caller
// after the cool-down becomes the half-open trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case breakerOpen:
		if b.now().After(b.nextTryAt) && !b.trialInFlight {
			b.st = breakerHalfOpen
			b.trialInFlight = true
			return true
		}
		return false
	case breakerHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = breakerClosed
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == breakerHalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.st = breakerOpen
	b.nextTryAt = b.now().Add(b.openFor)
	b.trialInFlight = false
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st == breakerOpen && !b.now().After(b.nextTryAt)
}
