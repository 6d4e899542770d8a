package wallet

import (
	"context"
	"encoding/json"
)

// RawProvider is a connected wallet backend handle. Handlers receive the raw
// event payload as emitted by the backend.
//
// A provider may also implement Close() error or Close(context.Context) error;
// Disconnect calls it. Handles are compared with ==, so implementations must
// be comparable, typically a pointer.
type RawProvider interface {
	On(event string, handler func(payload json.RawMessage))
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

type contextCloser interface {
	Close(ctx context.Context) error
}

type closer interface {
	Close() error
}

// Chooser presents the available backends and returns a connected provider.
type Chooser interface {
	// Connect returns a nil provider and nil error when the user dismissed
	// the picker.
	Connect(ctx context.Context) (RawProvider, error)
	// CachedProvider returns the id of the remembered provider, "" when none.
	CachedProvider() string
	ClearCachedProvider(ctx context.Context) error
}

// ChainClient is the chain-RPC surface the session needs.
type ChainClient interface {
	Accounts(ctx context.Context) ([]string, error)
	PersonalSign(ctx context.Context, message, address, password string) (string, error)
}

// Store is read access to the persistent store the chooser caches its
// provider choice in.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// CachedProviderKey is the store key holding the cached provider id.
const CachedProviderKey = "WEB3_CONNECT_CACHED_PROVIDER"

type ChooserFactory func(Settings) Chooser

type ChainClientFactory func(RawProvider) ChainClient
