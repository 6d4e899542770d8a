// Package wallet owns one wallet connection session: it lazily resolves the
// chooser, the connected raw provider and the chain client wrapped around it,
// translates provider events into session events and fans them out to
// subscribers.
package wallet

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/wallet/chain"
)

const (
	providerFlight = "provider"

	// addressTimeout bounds the address lookup behind account:changed.
	addressTimeout = 10 * time.Second
)

type Session struct {
	settings       Settings
	store          Store
	newChooser     ChooserFactory
	newChainClient ChainClientFactory
	registry       *Registry

	// flight coalesces concurrent provider resolutions, so the user is
	// prompted once and listeners are attached once.
	flight singleflight.Group

	mu       sync.Mutex
	chooser  Chooser
	provider RawProvider
	client   ChainClient
	// retired is the handle torn down last. Its disconnect notification is
	// still delivered.
	retired RawProvider
	// attached holds every handle whose events are wired. A chooser may hand
	// the same handle back after a Disconnect.
	attached map[RawProvider]struct{}
}

func New(opts Options) *Session {
	s := &Session{
		settings:       NewSettings(opts),
		store:          opts.Store,
		newChooser:     opts.NewChooser,
		newChainClient: opts.NewChainClient,
		registry:       NewRegistry(),
		attached:       map[RawProvider]struct{}{},
	}
	if s.newChooser == nil {
		s.newChooser = func(Settings) Chooser { return unavailableChooser{} }
	}
	if s.newChainClient == nil {
		s.newChainClient = func(p RawProvider) ChainClient { return chain.New(p) }
	}
	return s
}

// Settings returns a copy of the resolved settings.
func (s *Session) Settings() Settings {
	return s.settings.Copy()
}

// Chooser returns the session chooser, constructing it on first use. It
// survives Disconnect.
func (s *Session) Chooser() Chooser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chooser == nil {
		s.chooser = s.newChooser(s.settings.Copy())
	}
	return s.chooser
}

// Provider returns the connected raw provider, asking the chooser for one on
// first use. Concurrent first calls share a single resolution; its outcome is
// bound to the context of the caller that started it.
func (s *Session) Provider(ctx context.Context) (RawProvider, error) {
	if p := s.currentProvider(); p != nil {
		return p, nil
	}
	v, err, _ := s.flight.Do(providerFlight, func() (interface{}, error) {
		return s.resolveProvider(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(RawProvider), nil
}

// IsConnected reports whether a provider is currently resolved.
func (s *Session) IsConnected() bool {
	return s.currentProvider() != nil
}

func (s *Session) currentProvider() RawProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

func (s *Session) resolveProvider(ctx context.Context) (RawProvider, error) {
	if p := s.currentProvider(); p != nil {
		return p, nil
	}
	p, err := connectChooser(ctx, s.Chooser())
	if err != nil {
		log.Warnf("wallet session - chooser connect failed:%v", err)
		return nil, err
	}
	if p == nil {
		return nil, errors.WithStack(ErrConnection)
	}

	s.mu.Lock()
	s.provider = p
	s.client = nil
	s.retired = nil
	_, wired := s.attached[p]
	s.attached[p] = struct{}{}
	s.mu.Unlock()
	if !wired {
		s.attach(p)
	}
	log.Infof("wallet session - provider connected")
	return p, nil
}

func connectChooser(ctx context.Context, c Chooser) (p RawProvider, err error) {
	defer func() {
		if i := recover(); i != nil {
			p, err = nil, errors.ErrorfAndReport("chooser connect panicked: %v", i)
		}
	}()
	return c.Connect(ctx)
}

// attach translates the provider events into session events. Events from a
// handle that is no longer the session provider are dropped.
func (s *Session) attach(p RawProvider) {
	p.On(RawConnect, func(payload json.RawMessage) {
		if !s.isCurrent(p) {
			return
		}
		s.registry.Notify(EventConnected, ConnectedData{
			ChainID: chainIDOf(gjson.GetBytes(payload, "chainId")),
		})
	})
	p.On(RawDisconnect, func(payload json.RawMessage) {
		if !s.isCurrent(p) && !s.isRetired(p) {
			return
		}
		r := gjson.ParseBytes(payload)
		s.registry.Notify(EventDisconnected, DisconnectedData{
			Code:    r.Get("code").Int(),
			Message: r.Get("message").String(),
		})
	})
	p.On(RawAccountsChanged, func(json.RawMessage) {
		if !s.isCurrent(p) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), addressTimeout)
		defer cancel()
		addr, err := s.primaryAddress(ctx, s.clientFor(p))
		if err != nil {
			log.Warnf("wallet session - re-derive primary address:%v", err)
		}
		s.registry.Notify(EventAccountChanged, AccountChangedData{Address: addr})
	})
	p.On(RawChainChanged, func(payload json.RawMessage) {
		if !s.isCurrent(p) {
			return
		}
		r := gjson.ParseBytes(payload)
		if r.IsObject() {
			r = r.Get("chainId")
		}
		s.registry.Notify(EventChainChanged, ChainChangedData{ChainID: chainIDOf(r)})
	})
}

func (s *Session) isCurrent(p RawProvider) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider == p
}

func (s *Session) isRetired(p RawProvider) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired == p
}

// chainIDOf accepts both hex strings and plain numbers.
func chainIDOf(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

// ChainClient returns the chain client wrapped around the connected provider.
func (s *Session) ChainClient(ctx context.Context) (ChainClient, error) {
	p, err := s.Provider(ctx)
	if err != nil {
		return nil, err
	}
	return s.clientFor(p), nil
}

// clientFor caches the client only while p is the session provider.
func (s *Session) clientFor(p RawProvider) ChainClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == p && s.client != nil {
		return s.client
	}
	c := s.newChainClient(p)
	if s.provider == p {
		s.client = c
	}
	return c
}

// Connect resolves the chooser, the provider and the chain client. Failures
// are returned, never raised.
func (s *Session) Connect(ctx context.Context) error {
	if _, err := s.ChainClient(ctx); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the provider, clears the cached provider and resets the
// session so the next Connect resolves again. It is a no-op when nothing is
// connected. Teardown failures are logged only.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	p, c := s.provider, s.chooser
	s.mu.Unlock()
	if p == nil {
		return
	}
	if err := closeProvider(ctx, p); err != nil {
		log.Warn(errors.WithStackAndReport(&TeardownError{Step: "close provider", Err: err}))
	}
	if c != nil {
		if err := clearCache(ctx, c); err != nil {
			log.Warn(errors.WithStackAndReport(&TeardownError{Step: "clear cached provider", Err: err}))
		}
	}
	s.mu.Lock()
	if s.provider == p {
		s.provider = nil
		s.client = nil
		s.retired = p
	}
	s.mu.Unlock()
	log.Infof("wallet session - disconnected")
}

func closeProvider(ctx context.Context, p RawProvider) (err error) {
	defer func() {
		if i := recover(); i != nil {
			err = errors.Errorf("close panicked: %v", i)
		}
	}()
	switch c := p.(type) {
	case contextCloser:
		return c.Close(ctx)
	case closer:
		return c.Close()
	}
	return nil
}

func clearCache(ctx context.Context, c Chooser) (err error) {
	defer func() {
		if i := recover(); i != nil {
			err = errors.Errorf("clear cached provider panicked: %v", i)
		}
	}()
	return c.ClearCachedProvider(ctx)
}

// SignMessage signs message with address through the chain client. Signing
// errors are returned unchanged.
func (s *Session) SignMessage(ctx context.Context, address, message, password string) (string, error) {
	c, err := s.ChainClient(ctx)
	if err != nil {
		return "", err
	}
	return c.PersonalSign(ctx, message, address, password)
}

// Addresses returns the wallet accounts, possibly none.
func (s *Session) Addresses(ctx context.Context) ([]string, error) {
	c, err := s.ChainClient(ctx)
	if err != nil {
		return nil, err
	}
	return c.Accounts(ctx)
}

// CurrentAddress returns the primary address, the first account, or "" when
// the wallet exposes none.
func (s *Session) CurrentAddress(ctx context.Context) (string, error) {
	c, err := s.ChainClient(ctx)
	if err != nil {
		return "", err
	}
	return s.primaryAddress(ctx, c)
}

func (s *Session) primaryAddress(ctx context.Context, c ChainClient) (string, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return "", err
	}
	return FirstOr(accounts, ""), nil
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// ChainID returns the connected chain id as a 0x-prefixed hex string, "" when
// the chain client cannot tell.
func (s *Session) ChainID(ctx context.Context) (string, error) {
	c, err := s.ChainClient(ctx)
	if err != nil {
		return "", err
	}
	r, ok := c.(chainIDReader)
	if !ok {
		return "", nil
	}
	id, err := r.ChainID(ctx)
	if err != nil || id == nil {
		return "", err
	}
	return "0x" + id.Text(16), nil
}

// HasCachedProvider reports whether the chooser remembers a provider, or the
// persistent store still holds one from an earlier run.
func (s *Session) HasCachedProvider(ctx context.Context) bool {
	if s.Chooser().CachedProvider() != "" {
		return true
	}
	if s.store == nil {
		return false
	}
	v, err := s.store.Get(ctx, CachedProviderKey)
	if err != nil {
		log.Warnf("wallet session - read cached provider:%v", err)
		return false
	}
	return v != ""
}

// OnStateChange registers cb for every session event.
func (s *Session) OnStateChange(cb Callback) (*Subscription, error) {
	sub, err := s.registry.Subscribe(cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type unavailableChooser struct{}

func (unavailableChooser) Connect(context.Context) (RawProvider, error) {
	return nil, errNoChooser
}

func (unavailableChooser) CachedProvider() string { return "" }

func (unavailableChooser) ClearCachedProvider(context.Context) error { return nil }
