package chooser

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/moff-wallet/internal/store"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/wallet"
	"moff.io/moff-wallet/pkg/wallet/providers"
)

type stubProvider struct{ id string }

func (stubProvider) On(string, func(json.RawMessage)) {}

func (stubProvider) Request(context.Context, string, ...interface{}) (json.RawMessage, error) {
	return json.RawMessage("null"), nil
}

type scriptedPrompter struct {
	pick    string
	err     error
	calls   int
	offered []Option
}

func (p *scriptedPrompter) Choose(_ context.Context, options []Option) (string, error) {
	p.calls++
	p.offered = options
	return p.pick, p.err
}

func recordingFactory(connected *[]string, fail map[string]error) Factory {
	return func(_ context.Context, id string, _ providers.Recipe) (wallet.RawProvider, error) {
		if err := fail[id]; err != nil {
			return nil, err
		}
		*connected = append(*connected, id)
		return stubProvider{id: id}, nil
	}
}

func settingsWith(cache, disableInjected bool) wallet.Settings {
	yes := disableInjected
	return wallet.NewSettings(wallet.Options{
		Modal: wallet.ModalOptions{
			CacheProvider:           &cache,
			DisableInjectedProvider: &yes,
			ProviderOptions: providers.Options{
				"walletconnect": {Package: "@walletconnect/web3-provider"},
				"walletlink":    {Package: "walletlink"},
				"portis":        {Package: "@portis/web3"},
			},
		},
	})
}

func TestOptionsOnlyListsBackendsWithFactories(t *testing.T) {
	var connected []string
	f := recordingFactory(&connected, nil)
	m := New(settingsWith(true, false),
		WithFactory(providers.Injected, f),
		WithFactory("walletlink", f),
		WithFactory("@walletconnect/web3-provider", f),
	)
	assert.Equal(t, []Option{
		{ID: providers.Injected},
		{ID: "walletconnect", Package: "@walletconnect/web3-provider"},
		{ID: "walletlink", Package: "walletlink"},
	}, m.Options())

	m = New(settingsWith(true, true), WithFactory(providers.Injected, f), WithFactory("walletlink", f))
	assert.Equal(t, []Option{{ID: "walletlink", Package: "walletlink"}}, m.Options())
}

func TestConnectPromptsAndCachesChoice(t *testing.T) {
	ctx := context.Background()
	var connected []string
	f := recordingFactory(&connected, nil)
	s := store.NewMemory()
	p := &scriptedPrompter{pick: "walletlink"}
	m := New(settingsWith(true, false),
		WithFactory(providers.Injected, f),
		WithFactory("walletlink", f),
		WithPrompter(p),
		WithStore(s),
	)

	raw, err := m.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, stubProvider{id: "walletlink"}, raw)
	assert.Equal(t, "walletlink", m.CachedProvider())
	v, err := s.Get(ctx, wallet.CachedProviderKey)
	require.NoError(t, err)
	assert.Equal(t, `"walletlink"`, v)

	// A fresh chooser over the same store reconnects without prompting.
	p2 := &scriptedPrompter{pick: providers.Injected}
	m2 := New(settingsWith(true, false),
		WithFactory(providers.Injected, f),
		WithFactory("walletlink", f),
		WithPrompter(p2),
		WithStore(s),
	)
	assert.Empty(t, m2.CachedProvider())
	raw, err = m2.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, stubProvider{id: "walletlink"}, raw)
	assert.Zero(t, p2.calls)
	assert.Equal(t, "walletlink", m2.CachedProvider())
}

func TestConnectWithoutCachingNeverWritesStore(t *testing.T) {
	ctx := context.Background()
	var connected []string
	s := store.NewMemory()
	m := New(settingsWith(false, false),
		WithFactory(providers.Injected, recordingFactory(&connected, nil)),
		WithPrompter(&scriptedPrompter{pick: providers.Injected}),
		WithStore(s),
	)
	_, err := m.Connect(ctx)
	require.NoError(t, err)
	v, err := s.Get(ctx, wallet.CachedProviderKey)
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.Empty(t, m.CachedProvider())
}

func TestConnectDismissedReturnsNothing(t *testing.T) {
	var connected []string
	m := New(settingsWith(true, false),
		WithFactory(providers.Injected, recordingFactory(&connected, nil)),
		WithFactory("walletlink", recordingFactory(&connected, nil)),
		WithPrompter(&scriptedPrompter{pick: ""}),
	)
	raw, err := m.Connect(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, raw)
	assert.Empty(t, connected)
}

func TestConnectFallsBackWhenCachedProviderFails(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Set(ctx, wallet.CachedProviderKey, `"walletlink"`))

	var connected []string
	f := recordingFactory(&connected, map[string]error{"walletlink": errors.New("offline")})
	p := &scriptedPrompter{pick: providers.Injected}
	m := New(settingsWith(true, false),
		WithFactory(providers.Injected, f),
		WithFactory("walletlink", f),
		WithPrompter(p),
		WithStore(s),
	)
	raw, err := m.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, stubProvider{id: providers.Injected}, raw)
	assert.Equal(t, 1, p.calls)
	v, _ := s.Get(ctx, wallet.CachedProviderKey)
	assert.Equal(t, `"injected"`, v)
}

func TestConnectWithoutPrompter(t *testing.T) {
	var connected []string
	f := recordingFactory(&connected, nil)

	m := New(settingsWith(true, true), WithFactory("walletlink", f))
	raw, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stubProvider{id: "walletlink"}, raw)

	m = New(settingsWith(true, false), WithFactory(providers.Injected, f), WithFactory("walletlink", f))
	_, err = m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoPrompter)

	m = New(settingsWith(true, true))
	_, err = m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestConnectUnknownPick(t *testing.T) {
	var connected []string
	m := New(settingsWith(true, false),
		WithFactory(providers.Injected, recordingFactory(&connected, nil)),
		WithPrompter(&scriptedPrompter{pick: "torus"}),
	)
	_, err := m.Connect(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "torus")
}

func TestClearCachedProvider(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Set(ctx, wallet.CachedProviderKey, `"walletlink"`))
	m := New(settingsWith(true, false), WithStore(s))
	m.loadCached(ctx)
	assert.Equal(t, "walletlink", m.CachedProvider())

	require.NoError(t, m.ClearCachedProvider(ctx))
	assert.Empty(t, m.CachedProvider())
	v, err := s.Get(ctx, wallet.CachedProviderKey)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSessionFactoryDrivesSession(t *testing.T) {
	var connected []string
	s := wallet.New(wallet.Options{
		NewChooser: SessionFactory(WithFactory(providers.Injected, recordingFactory(&connected, nil))),
	})
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	assert.Equal(t, []string{providers.Injected}, connected)
}

func TestTerminalPrompter(t *testing.T) {
	options := []Option{{ID: providers.Injected}, {ID: "walletlink", Package: "walletlink"}}
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "2\n", want: "walletlink"},
		{in: "injected\n", want: providers.Injected},
		{in: "\n", want: ""},
		{in: "q\n", want: ""},
		{in: "", want: ""},
		{in: "7\n", err: true},
		{in: "torus\n", err: true},
	}
	for _, tt := range tests {
		var out strings.Builder
		p := &TerminalPrompter{In: strings.NewReader(tt.in), Out: &out}
		got, err := p.Choose(context.Background(), options)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Contains(t, out.String(), "[2] walletlink")
	}
}

func TestTerminalPrompterAfterCancelledPrompt(t *testing.T) {
	options := []Option{{ID: providers.Injected}, {ID: "walletlink", Package: "walletlink"}}
	r, w := io.Pipe()
	defer w.Close()
	p := &TerminalPrompter{In: r, Out: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Choose(ctx, options)
	assert.ErrorIs(t, err, context.Canceled)

	go func() { _, _ = io.WriteString(w, "2\n") }()
	got, err := p.Choose(context.Background(), options)
	require.NoError(t, err)
	assert.Equal(t, "walletlink", got)
}

// slowStore blocks Get until release is closed.
type slowStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Get(ctx context.Context, key string) (string, error) {
	close(s.entered)
	<-s.release
	return s.Store.Get(ctx, key)
}

func TestCachedProviderDoesNotWaitForStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(ctx, wallet.CachedProviderKey, `"walletlink"`))
	s := &slowStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	m := New(settingsWith(true, false), WithStore(s))

	loaded := make(chan string, 1)
	go func() { loaded <- m.loadCached(ctx) }()
	<-s.entered

	read := make(chan string, 1)
	go func() { read <- m.CachedProvider() }()
	select {
	case v := <-read:
		assert.Empty(t, v)
	case <-time.After(5 * time.Second):
		t.Fatal("CachedProvider blocked behind the store read")
	}

	close(s.release)
	assert.Equal(t, "walletlink", <-loaded)
	assert.Equal(t, "walletlink", m.CachedProvider())
}
