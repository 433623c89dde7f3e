package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type (
	SuccessFunc func(data json.RawMessage)
	ErrorFunc   func(err error)
)

type pendingTransaction struct {
	onSuccess SuccessFunc
	onError   ErrorFunc
	timer     *time.Timer
}

// TransactionRegistry maps correlation tokens to the continuations of requests
// still waiting for an answer. Every token is consumed at most once, by Resolve,
// by its timeout, or dropped by Close.
type TransactionRegistry struct {
	mu       sync.Mutex
	pending  map[string]*pendingTransaction
	timeout  time.Duration
	schedule func(func())
}

// NewTransactionRegistry builds a registry whose entries expire after timeout
// (zero keeps them until Close). Expiry is handed to schedule so the error
// continuation runs in the same sequence as Resolve; nil runs it on the timer goroutine.
func NewTransactionRegistry(timeout time.Duration, schedule func(func())) *TransactionRegistry {
	return &TransactionRegistry{
		pending:  make(map[string]*pendingTransaction),
		timeout:  timeout,
		schedule: schedule,
	}
}

// Register stores the continuation pair for token. A token that is already
// pending is a caller bug: the call is ignored and false returned.
func (r *TransactionRegistry) Register(token string, onSuccess SuccessFunc, onError ErrorFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[token]; ok {
		log.Warn().Str("module", "core.transactions").Str("transaction", token).Msg("duplicate token ignored")
		return false
	}
	p := &pendingTransaction{onSuccess: onSuccess, onError: onError}
	if r.timeout > 0 {
		p.timer = time.AfterFunc(r.timeout, func() { r.expire(token, p) })
	}
	r.pending[token] = p
	return true
}

// Resolve consumes token and runs its success continuation when err is nil,
// its error continuation otherwise. Unknown tokens are a no-op and report false.
func (r *TransactionRegistry) Resolve(token string, data json.RawMessage, err error) bool {
	r.mu.Lock()
	p, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "core.transactions").Str("transaction", token).Msg("no pending transaction")
		return false
	}
	r.run(p, data, err)
	return true
}

func (r *TransactionRegistry) expire(token string, p *pendingTransaction) {
	fire := func() {
		r.mu.Lock()
		cur, ok := r.pending[token]
		if !ok || cur != p {
			r.mu.Unlock()
			return
		}
		delete(r.pending, token)
		r.mu.Unlock()
		log.Warn().Str("module", "core.transactions").Str("transaction", token).Dur("timeout", r.timeout).Msg("transaction expired")
		r.run(p, nil, ErrTransactionTimeout)
	}
	if r.schedule != nil {
		r.schedule(fire)
		return
	}
	fire()
}

func (r *TransactionRegistry) run(p *pendingTransaction, data json.RawMessage, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if err == nil {
		if p.onSuccess != nil {
			p.onSuccess(data)
		}
		return
	}
	if p.onError != nil {
		p.onError(err)
	}
}

func (r *TransactionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close drops every pending transaction without running its continuations.
func (r *TransactionRegistry) Close() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingTransaction)
	r.mu.Unlock()
	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	log.Info().Str("module", "core.transactions").Int("dropped", len(pending)).Msg("registry cleared")
}
