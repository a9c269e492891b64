package oracle

import (
	"MarginLedger/internal/errcode"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry holds the latest image of every oracle input, indexed by address
// and, for Pyth updates, by feed id.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[uuid.UUID]Account
	byFeed map[uuid.UUID]*PythPriceUpdate
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[uuid.UUID]Account),
		byFeed: make(map[uuid.UUID]*PythPriceUpdate),
	}
}

// Put stores an image. A Pyth update older than the stored one for the same
// feed, or a Switchboard pull image older than the stored one at the same
// address, is ignored and Put reports false.
func (r *Registry) Put(acc Account) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch upd := acc.(type) {
	case *PythPriceUpdate:
		if cur, ok := r.byFeed[upd.FeedID]; ok && cur.PublishTime > upd.PublishTime {
			return false
		}
		r.byFeed[upd.FeedID] = upd
	case *SwitchboardPullFeed:
		if cur, ok := r.byKey[upd.Address].(*SwitchboardPullFeed); ok && cur.LastUpdate > upd.LastUpdate {
			return false
		}
	}
	r.byKey[acc.Key()] = acc
	return true
}

func (r *Registry) Get(key uuid.UUID) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.byKey[key]
	return acc, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// InputsFor returns the inputs a bank's oracle setup consumes, in order.
func (r *Registry) InputsFor(cfg Config) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inputs := make([]Account, 0, cfg.InputCount())
	for i := 0; i < cfg.InputCount(); i++ {
		var acc Account
		if i == 0 && (cfg.Setup == SetupPythPush || cfg.Setup == SetupStakedWithPythPush) {
			if upd, ok := r.byFeed[cfg.Keys[0]]; ok {
				acc = upd
			}
		} else if a, ok := r.byKey[cfg.Keys[i]]; ok {
			acc = a
		}
		if acc == nil {
			return nil, fmt.Errorf("no image for oracle key %s: %w", cfg.Keys[i], errcode.ErrMissingBankOrOracleInput)
		}
		inputs = append(inputs, acc)
	}
	return inputs, nil
}
