// Package http exposes one wallet session as a JSON API with a websocket
// event stream.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/websocket"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/log/middleware"
	"moff.io/moff-wallet/pkg/wallet"
	"moff.io/moff-wallet/pkg/wallet/chain"
)

// Session is the part of wallet.Session the API drives.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	IsConnected() bool
	Settings() wallet.Settings
	ChainID(ctx context.Context) (string, error)
	HasCachedProvider(ctx context.Context) bool
	Addresses(ctx context.Context) ([]string, error)
	CurrentAddress(ctx context.Context) (string, error)
	SignMessage(ctx context.Context, address, message, password string) (string, error)
	OnStateChange(cb wallet.Callback) (*wallet.Subscription, error)
}

// Limiter is satisfied by *redis_rate.Limiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

const (
	eventBuffer  = 32
	shutdownWait = 10 * time.Second
)

type Server struct {
	session   Session
	timeout   time.Duration
	limiter   Limiter
	signLimit redis_rate.Limit
	upgrader  websocket.Upgrader
}

type Option func(*Server)

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithSignLimit caps sign requests to perMinute per client ip.
func WithSignLimit(l Limiter, perMinute int) Option {
	return func(s *Server) {
		if l == nil || perMinute <= 0 {
			return
		}
		s.limiter = l
		s.signLimit = redis_rate.PerMinute(perMinute)
	}
}

func NewServer(session Session, opts ...Option) *Server {
	s := &Server{
		session: session,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog())

	api := router.Group("/", middleware.TimeoutHTTP(s.timeout))
	api.GET("/session", s.status)
	api.POST("/connect", s.connect)
	api.POST("/disconnect", s.disconnect)
	api.GET("/addresses", s.addresses)
	api.POST("/sign", s.rateLimit("sign"), s.sign)
	api.POST("/verify", s.verify)

	// The event stream outlives the request timeout.
	router.GET("/events", s.events)
	return router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errc := make(chan error, 1)
	go func() {
		log.Infof("http - listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "http serve")
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func (s *Server) status(ctx *gin.Context) {
	rctx := ctx.Request.Context()
	connected := s.session.IsConnected()
	address, chainID := "", ""
	if connected {
		a, err := s.session.CurrentAddress(rctx)
		if err != nil {
			log.Warnf("http - current address:%v", err)
		}
		id, err := s.session.ChainID(rctx)
		if err != nil {
			log.Warnf("http - chain id:%v", err)
		}
		address, chainID = a, id
	}
	ctx.JSONP(http.StatusOK, map[string]interface{}{
		"connected":       connected,
		"cached_provider": s.session.HasCachedProvider(rctx),
		"address":         address,
		"chain_id":        chainID,
		"network":         s.session.Settings().Modal.Network,
	})
}

func (s *Server) connect(ctx *gin.Context) {
	if err := s.session.Connect(ctx.Request.Context()); err != nil {
		ctx.JSONP(http.StatusOK, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	ctx.JSONP(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (s *Server) disconnect(ctx *gin.Context) {
	s.session.Disconnect(ctx.Request.Context())
	ctx.JSONP(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (s *Server) addresses(ctx *gin.Context) {
	addresses, err := s.session.Addresses(ctx.Request.Context())
	if err != nil {
		ctx.JSONP(http.StatusOK, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	ctx.JSONP(http.StatusOK, map[string]interface{}{
		"addresses": addresses,
	})
}

type signRequest struct {
	Address  string `json:"address" binding:"required"`
	Message  string `json:"message" binding:"required"`
	Password string `json:"password"`
}

func (s *Server) sign(ctx *gin.Context) {
	var req signRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSONP(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	sig, err := s.session.SignMessage(ctx.Request.Context(), req.Address, req.Message, req.Password)
	if err != nil {
		ctx.JSONP(http.StatusOK, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	ctx.JSONP(http.StatusOK, map[string]interface{}{
		"signature": sig,
	})
}

type verifyRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) verify(ctx *gin.Context) {
	var req verifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSONP(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	ctx.JSONP(http.StatusOK, map[string]interface{}{
		"valid": chain.VerifySignature(req.Address, req.Signature, []byte(req.Message)),
	})
}

func (s *Server) rateLimit(name string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if s.limiter == nil {
			ctx.Next()
			return
		}
		res, err := s.limiter.Allow(ctx.Request.Context(), name+":"+ctx.ClientIP(), s.signLimit)
		if err != nil {
			// An unreachable limiter does not block signing.
			log.Warn(errors.WrapAndReport(err, "rate limit"))
			ctx.Next()
			return
		}
		if res.Allowed == 0 {
			ctx.Header("Retry-After", res.RetryAfter.Round(time.Second).String())
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, map[string]interface{}{
				"error": "too many requests",
			})
			return
		}
		ctx.Next()
	}
}

type eventMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// events streams every session event to the websocket until the peer goes
// away. Events are dropped when the peer reads too slowly.
func (s *Server) events(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warnf("http - websocket upgrade:%v", err)
		return
	}
	defer conn.Close()

	out := make(chan eventMessage, eventBuffer)
	sub, err := s.session.OnStateChange(func(event string, data interface{}) {
		select {
		case out <- eventMessage{Event: event, Data: data}:
		default:
			log.Warnf("http - event %s dropped for slow subscriber", event)
		}
	})
	if err != nil {
		log.Error(err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(time.Second))
		return
	}
	defer sub.Unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-gone:
			return
		case m := <-out:
			if err := conn.WriteJSON(m); err != nil {
				log.Debugf("http - event stream closed:%v", err)
				return
			}
		}
	}
}
