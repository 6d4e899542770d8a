// Package chooser is a headless wallet picker. It offers the configured
// backends through a Prompter, connects the chosen one and remembers the
// choice in a store so the next session can skip the prompt.
package chooser

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"moff.io/moff-wallet/internal/store"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/wallet"
	"moff.io/moff-wallet/pkg/wallet/providers"
)

var (
	ErrNoProviders = errors.New("chooser: no provider available")
	ErrNoPrompter  = errors.New("chooser: several providers available but no prompter configured")
)

// Factory connects one backend built from recipe.
type Factory func(ctx context.Context, id string, recipe providers.Recipe) (wallet.RawProvider, error)

// Option is one entry offered to the user.
type Option struct {
	ID      string `json:"id"`
	Package string `json:"package,omitempty"`
}

// Prompter asks the user to pick one of options. It returns "" when the user
// dismissed the picker.
type Prompter interface {
	Choose(ctx context.Context, options []Option) (string, error)
}

type Modal struct {
	settings wallet.ModalSettings
	// factories are keyed by recipe package; the injected provider is keyed
	// by providers.Injected.
	factories map[string]Factory
	prompter  Prompter
	store     store.Store

	mu     sync.Mutex
	cached string
	loaded bool
}

type ModalOption func(*Modal)

func WithFactory(pkg string, f Factory) ModalOption {
	return func(m *Modal) { m.factories[pkg] = f }
}

func WithPrompter(p Prompter) ModalOption {
	return func(m *Modal) { m.prompter = p }
}

func WithStore(s store.Store) ModalOption {
	return func(m *Modal) { m.store = s }
}

func New(settings wallet.Settings, opts ...ModalOption) *Modal {
	m := &Modal{
		settings:  settings.Modal,
		factories: map[string]Factory{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionFactory adapts New to the session chooser factory.
func SessionFactory(opts ...ModalOption) wallet.ChooserFactory {
	return func(s wallet.Settings) wallet.Chooser {
		return New(s, opts...)
	}
}

// Options lists the backends that can be connected, injected first.
func (m *Modal) Options() []Option {
	var out []Option
	if !m.settings.DisableInjectedProvider {
		if _, ok := m.factories[providers.Injected]; ok {
			out = append(out, Option{ID: providers.Injected})
		}
	}
	ids := make([]string, 0, len(m.settings.ProviderOptions))
	for id := range m.settings.ProviderOptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		recipe := m.settings.ProviderOptions[id]
		if _, ok := m.factories[recipe.Package]; !ok {
			log.Debugf("chooser - no factory for %s (%s), skipped", id, recipe.Package)
			continue
		}
		out = append(out, Option{ID: id, Package: recipe.Package})
	}
	return out
}

// Connect connects the cached provider when caching is on and one is
// remembered, prompting the user otherwise.
func (m *Modal) Connect(ctx context.Context) (wallet.RawProvider, error) {
	if m.settings.CacheProvider {
		if id := m.loadCached(ctx); id != "" {
			p, err := m.connectTo(ctx, id)
			if err == nil {
				log.Infof("chooser - reconnected cached provider %s", id)
				return p, nil
			}
			log.Warnf("chooser - cached provider %s failed, prompting:%v", id, err)
			if err := m.ClearCachedProvider(ctx); err != nil {
				log.Warn(err)
			}
		}
	}
	options := m.Options()
	id, err := m.choose(ctx, options)
	if err != nil || id == "" {
		return nil, err
	}
	p, err := m.connectTo(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.settings.CacheProvider {
		if err := m.setCached(ctx, id); err != nil {
			log.Warn(err)
		}
	}
	return p, nil
}

func (m *Modal) choose(ctx context.Context, options []Option) (string, error) {
	switch {
	case len(options) == 0:
		return "", ErrNoProviders
	case m.prompter != nil:
		return m.prompter.Choose(ctx, options)
	case len(options) == 1:
		return options[0].ID, nil
	}
	return "", ErrNoPrompter
}

func (m *Modal) connectTo(ctx context.Context, id string) (wallet.RawProvider, error) {
	var recipe providers.Recipe
	pkg := providers.Injected
	if id == providers.Injected {
		if m.settings.DisableInjectedProvider {
			return nil, errors.New("chooser: injected provider disabled")
		}
	} else {
		r, ok := m.settings.ProviderOptions[id]
		if !ok {
			return nil, errors.Errorf("chooser: unknown provider %q", id)
		}
		recipe, pkg = r, r.Package
	}
	f, ok := m.factories[pkg]
	if !ok {
		return nil, errors.Errorf("chooser: no factory for package %q", pkg)
	}
	p, err := f(ctx, id, recipe)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", id)
	}
	if p == nil {
		return nil, errors.Errorf("chooser: factory for %s returned no provider", id)
	}
	return p, nil
}

// CachedProvider returns the remembered provider id known to this chooser.
// It does not read the store; that happens on the first Connect.
func (m *Modal) CachedProvider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached
}

func (m *Modal) ClearCachedProvider(ctx context.Context) error {
	m.mu.Lock()
	m.cached = ""
	m.loaded = true
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return errors.WrapAndReport(m.store.Delete(ctx, wallet.CachedProviderKey), "clear cached provider")
}

// loadCached reads the store once. The read runs without m.mu held, and a
// value set or cleared meanwhile wins over it.
func (m *Modal) loadCached(ctx context.Context) string {
	m.mu.Lock()
	if m.loaded || m.store == nil {
		cached := m.cached
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()

	v, err := m.store.Get(ctx, wallet.CachedProviderKey)
	if err != nil {
		log.Warnf("chooser - load cached provider:%v", err)
		return ""
	}
	id := v
	if r := gjson.Parse(v); v != "" && r.Type == gjson.String {
		id = r.String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		m.loaded = true
		m.cached = id
	}
	return m.cached
}

func (m *Modal) setCached(ctx context.Context, id string) error {
	m.mu.Lock()
	m.cached = id
	m.loaded = true
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	v, _ := json.Marshal(id)
	return errors.WrapAndReport(m.store.Set(ctx, wallet.CachedProviderKey, string(v)), "store cached provider")
}
