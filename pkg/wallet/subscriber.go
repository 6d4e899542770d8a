package wallet

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

// Callback receives every session event.
type Callback func(event string, data interface{})

// Subscription is the handle returned by OnStateChange.
type Subscription struct {
	ID       string
	callback Callback
	active   atomic.Bool
	once     sync.Once
	remove   func(id string)
}

// Unsubscribe stops delivery to the subscription. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.remove(s.ID)
	})
}

// Registry maps subscription ids to callbacks. Dispatch works on a snapshot so
// subscriptions may be added or removed from inside a callback.
type Registry struct {
	mu    sync.RWMutex
	subs  *linkedhashmap.Map
	newID func() (string, error)
}

func NewRegistry() *Registry {
	return &Registry{
		subs: linkedhashmap.New(),
		newID: func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// Subscribe registers cb under a new unique id.
func (r *Registry) Subscribe(cb Callback) (sub *Subscription, err error) {
	defer func() {
		if i := recover(); i != nil {
			sub, err = nil, &RegistrationError{Err: errors.Errorf("%v", i)}
		}
	}()
	if cb == nil {
		return nil, &RegistrationError{Err: errors.New("nil callback")}
	}
	id, err := r.newID()
	if err != nil {
		return nil, &RegistrationError{Err: errors.Wrap(err, "generate subscription id")}
	}
	sub = &Subscription{ID: id, callback: cb, remove: r.remove}
	sub.active.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.subs.Get(id); found {
		return nil, &RegistrationError{Err: errors.Errorf("duplicate subscription id %s", id)}
	}
	r.subs.Put(id, sub)
	return sub, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	r.subs.Remove(id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs.Size()
}

// Notify delivers the event to every subscription registered when the call
// started, in registration order. A panicking callback is logged and does not
// stop delivery to the others.
func (r *Registry) Notify(event string, data interface{}) {
	r.mu.RLock()
	values := r.subs.Values()
	r.mu.RUnlock()
	for _, v := range values {
		sub := v.(*Subscription)
		if !sub.active.Load() {
			continue
		}
		deliver(sub, event, data)
	}
}

func deliver(sub *Subscription, event string, data interface{}) {
	defer func() {
		if i := recover(); i != nil {
			log.Error(errors.ErrorfAndReport("subscriber %s panicked on %s: %v", sub.ID, event, i))
		}
	}()
	sub.callback(event, data)
}
