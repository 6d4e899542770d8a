// Package wsrpc is a wallet provider speaking JSON-RPC 2.0 over a websocket,
// for wallet bridges and signer daemons reachable on the network.
package wsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

const (
	writeWait = 10 * time.Second

	disconnect = "disconnect"
)

var ErrClosed = errors.New("wsrpc: connection closed")

// RPCError is an error object returned by the remote end.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	result json.RawMessage
	err    error
}

type event struct {
	name    string
	payload json.RawMessage
}

type Provider struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Int64
	closed  atomic.Bool

	mu       sync.Mutex
	pending  map[int64]chan response
	handlers map[string][]func(json.RawMessage)

	// queue decouples handlers from the read loop, so a handler may issue
	// requests of its own. It is unbounded; the read loop never waits on it.
	qmu      sync.Mutex
	queue    *linkedlistqueue.Queue
	finished bool
	wake     chan struct{}

	readDone chan struct{}
	done     chan struct{}
}

func Dial(ctx context.Context, url string, header http.Header) (*Provider, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	p := &Provider{
		conn:     conn,
		pending:  map[int64]chan response{},
		handlers: map[string][]func(json.RawMessage){},
		queue:    linkedlistqueue.New(),
		wake:     make(chan struct{}, 1),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.emitLoop()
	go p.readLoop()
	log.Debugf("wsrpc - connected to %s", url)
	return p, nil
}

func (p *Provider) On(name string, handler func(json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = append(p.handlers[name], handler)
}

func (p *Provider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	id := p.nextID.Inc()
	ch := make(chan response, 1)
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.write(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.result, r.err
	}
}

func (p *Provider) write(v interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(v); err != nil {
		return errors.Wrap(err, "wsrpc write")
	}
	return nil
}

// Close sends a normal close frame and waits for the read loop to finish.
// Handlers still queued are delivered afterwards.
func (p *Provider) Close() error {
	var err error
	if !p.closed.Load() {
		p.writeMu.Lock()
		err = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
			time.Now().Add(writeWait))
		p.writeMu.Unlock()
		select {
		case <-p.readDone:
		case <-time.After(writeWait):
		}
	}
	_ = p.conn.Close()
	<-p.readDone
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return errors.Wrap(err, "wsrpc close")
	}
	return nil
}

func (p *Provider) readLoop() {
	defer close(p.readDone)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.shutdown(err)
			return
		}
		p.dispatch(data)
	}
}

func (p *Provider) dispatch(data []byte) {
	if !gjson.ValidBytes(data) {
		log.Warnf("wsrpc - dropped malformed message: %.200s", data)
		return
	}
	r := gjson.ParseBytes(data)
	if r.IsArray() {
		r.ForEach(func(_, m gjson.Result) bool {
			p.handle(m)
			return true
		})
		return
	}
	p.handle(r)
}

func (p *Provider) handle(m gjson.Result) {
	if method := m.Get("method"); method.Exists() {
		params := m.Get("params")
		payload := json.RawMessage("null")
		if params.Exists() {
			payload = json.RawMessage(params.Raw)
		}
		p.push(event{name: method.String(), payload: payload})
		return
	}
	id := m.Get("id")
	if !id.Exists() {
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[id.Int()]
	p.mu.Unlock()
	if !ok {
		log.Debugf("wsrpc - response for unknown id %s", id.Raw)
		return
	}
	if e := m.Get("error"); e.Exists() && e.Type != gjson.Null {
		rpcErr := &RPCError{Code: e.Get("code").Int(), Message: e.Get("message").String()}
		if d := e.Get("data"); d.Exists() {
			rpcErr.Data = json.RawMessage(d.Raw)
		}
		ch <- response{err: rpcErr}
		return
	}
	result := json.RawMessage("null")
	if res := m.Get("result"); res.Exists() {
		result = json.RawMessage(res.Raw)
	}
	ch <- response{result: result}
}

// shutdown runs on the read loop once the connection is gone. Pending
// requests fail and handlers receive a disconnect event.
func (p *Provider) shutdown(err error) {
	p.mu.Lock()
	p.closed.Store(true)
	for id, ch := range p.pending {
		// A caller that gave up may have left a response in the buffer.
		select {
		case ch <- response{err: ErrClosed}:
		default:
		}
		delete(p.pending, id)
	}
	p.mu.Unlock()

	code, message := int64(websocket.CloseAbnormalClosure), err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, message = int64(ce.Code), ce.Text
	}
	payload, _ := json.Marshal(map[string]interface{}{"code": code, "message": message})
	p.push(event{name: disconnect, payload: payload})
	p.qmu.Lock()
	p.finished = true
	p.qmu.Unlock()
	p.signal()
}

func (p *Provider) push(e event) {
	p.qmu.Lock()
	p.queue.Enqueue(e)
	p.qmu.Unlock()
	p.signal()
}

func (p *Provider) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Provider) emitLoop() {
	defer close(p.done)
	for {
		p.qmu.Lock()
		v, ok := p.queue.Dequeue()
		finished := p.finished
		p.qmu.Unlock()
		if !ok {
			if finished {
				return
			}
			<-p.wake
			continue
		}
		e := v.(event)
		p.mu.Lock()
		hs := append([]func(json.RawMessage){}, p.handlers[e.name]...)
		p.mu.Unlock()
		for _, h := range hs {
			p.call(e, h)
		}
	}
}

func (p *Provider) call(e event, h func(json.RawMessage)) {
	defer func() {
		if i := recover(); i != nil {
			log.Error(errors.ErrorfAndReport("wsrpc handler for %s panicked: %v", e.name, i))
		}
	}()
	h(e.payload)
}

// Done is closed once the connection is gone and every queued event was
// delivered.
func (p *Provider) Done() <-chan struct{} {
	return p.done
}
