package wsrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"moff.io/moff-wallet/pkg/wallet"
)

const signer = "0x00000000000000000000000000000000000000a1"

// bridge is a scripted wallet endpoint.
type bridge struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	conn   *websocket.Conn
	ready  chan struct{}
	silent atomic.Bool
	// beforeReply runs on the serving goroutine before each response.
	beforeReply func(method string)
}

func newBridge(t *testing.T) *bridge {
	b := &bridge{t: t, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		close(b.ready)
		b.serve(conn)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *bridge) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *bridge) serve(conn *websocket.Conn) {
	for {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if b.silent.Load() {
			continue
		}
		b.mu.Lock()
		hook := b.beforeReply
		b.mu.Unlock()
		if hook != nil {
			hook(req.Method)
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_accounts":
			resp["result"] = []string{signer}
		case "personal_sign":
			resp["error"] = map[string]interface{}{"code": 4001, "message": "User rejected the request."}
		case "eth_chainId":
			resp["result"] = "0x1"
		default:
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		b.send(resp)
	}
}

func (b *bridge) send(v interface{}) {
	<-b.ready
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.NoError(b.t, b.conn.WriteJSON(v))
}

func (b *bridge) notify(method string, params interface{}) {
	b.send(map[string]interface{}{"jsonrpc": "2.0", "method": method, "params": params})
}

func (b *bridge) hangUp(code int, text string) {
	<-b.ready
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	_ = b.conn.Close()
}

func dial(t *testing.T, b *bridge) *Provider {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := Dial(ctx, b.url(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProviderSatisfiesRawProvider(t *testing.T) {
	var _ wallet.RawProvider = (*Provider)(nil)
}

func TestRequest(t *testing.T) {
	p := dial(t, newBridge(t))
	ctx := context.Background()

	raw, err := p.Request(ctx, "eth_accounts")
	require.NoError(t, err)
	assert.JSONEq(t, `["`+signer+`"]`, string(raw))

	raw, err = p.Request(ctx, "eth_chainId")
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(raw))
}

func TestRequestRemoteError(t *testing.T) {
	p := dial(t, newBridge(t))
	_, err := p.Request(context.Background(), "personal_sign", "0x68656c6c6f", signer, "")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(4001), rpcErr.Code)
	assert.Equal(t, "User rejected the request.", rpcErr.Message)
}

func TestRequestHonorsContext(t *testing.T) {
	b := newBridge(t)
	b.silent.Store(true)
	p := dial(t, b)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Request(ctx, "eth_accounts")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotificationsReachHandlers(t *testing.T) {
	b := newBridge(t)
	p := dial(t, b)

	got := make(chan string, 2)
	p.On("chainChanged", func(payload json.RawMessage) { got <- string(payload) })
	// A handler may call back into the provider.
	p.On("accountsChanged", func(json.RawMessage) {
		raw, err := p.Request(context.Background(), "eth_accounts")
		if assert.NoError(t, err) {
			got <- string(raw)
		}
	})

	b.notify("chainChanged", "0x89")
	b.notify("accountsChanged", []string{signer})

	for _, want := range []string{`"0x89"`, `["` + signer + `"]`} {
		select {
		case v := <-got:
			assert.JSONEq(t, want, v)
		case <-time.After(5 * time.Second):
			t.Fatal("notification not delivered")
		}
	}
}

func TestRemoteCloseEmitsDisconnect(t *testing.T) {
	b := newBridge(t)
	p := dial(t, b)

	got := make(chan json.RawMessage, 1)
	p.On("disconnect", func(payload json.RawMessage) { got <- payload })
	b.hangUp(4100, "wallet locked")

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"code":4100,"message":"wallet locked"}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect not delivered")
	}
	<-p.Done()
	_, err := p.Request(context.Background(), "eth_accounts")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, p.Close())
}

func TestCloseFailsPendingRequests(t *testing.T) {
	b := newBridge(t)
	b.silent.Store(true)
	p := dial(t, b)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), "eth_accounts")
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, p.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request not released")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	b := newBridge(t)
	p := dial(t, b)
	<-b.ready
	b.mu.Lock()
	require.NoError(t, b.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	b.mu.Unlock()

	raw, err := p.Request(context.Background(), "eth_chainId")
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(raw))
}

func TestNotificationBurstDoesNotStallHandlerRequests(t *testing.T) {
	b := newBridge(t)
	b.mu.Lock()
	b.beforeReply = func(method string) {
		if method != "eth_accounts" {
			return
		}
		for i := 0; i < 500; i++ {
			b.notify("chainChanged", "0x1")
		}
	}
	b.mu.Unlock()
	p := dial(t, b)

	var chains atomic.Int64
	p.On("chainChanged", func(json.RawMessage) { chains.Inc() })
	got := make(chan error, 1)
	p.On("accountsChanged", func(json.RawMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := p.Request(ctx, "eth_accounts")
		got <- err
	})
	b.notify("accountsChanged", []string{signer})

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("handler request never returned")
	}
	assert.Eventually(t, func() bool { return chains.Load() == 500 }, 5*time.Second, 10*time.Millisecond)
}

func TestCloseWithAbandonedResponse(t *testing.T) {
	p := dial(t, newBridge(t))

	// A response already buffered for a caller that stopped waiting.
	ch := make(chan response, 1)
	ch <- response{result: json.RawMessage("null")}
	p.mu.Lock()
	p.pending[1<<40] = ch
	p.mu.Unlock()

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("close blocked on an abandoned response")
	}
}
