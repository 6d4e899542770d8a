package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/moff-wallet/internal/chooser"
	"moff.io/moff-wallet/internal/config"
	server "moff.io/moff-wallet/internal/http"
	"moff.io/moff-wallet/internal/provider/wsrpc"
	"moff.io/moff-wallet/internal/store"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/wallet"
	"moff.io/moff-wallet/pkg/wallet/providers"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	log.SetLevel(config.Global.LogLevel)
	if !log.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.Global.SentryDSN != "" {
		if err := errors.NewSentryReporter(config.Global.SentryDSN); err != nil {
			log.Warn(err)
		}
	}
	if config.Global.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(config.Global.LarkAlarmWebhook, time.Minute)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, rdb, err := openStore(ctx, config.Global)
	if err != nil {
		log.Fatal(err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	opts := config.Global.SessionOptions()
	opts.Store = st
	opts.NewChooser = chooser.SessionFactory(modalOptions(st, config.Global.Wallet.Endpoints)...)
	session := wallet.New(opts)
	if _, err := session.OnStateChange(func(event string, data interface{}) {
		log.Infof("wallet event %s %+v", event, data)
	}); err != nil {
		log.Warn(err)
	}
	defer session.Disconnect(context.Background())

	serverOpts := []server.Option{server.WithRequestTimeout(config.Global.HTTP.RequestTimeout)}
	if rdb != nil {
		serverOpts = append(serverOpts, server.WithSignLimit(redis_rate.NewLimiter(rdb), config.Global.HTTP.SignPerMinute))
	}
	err = server.NewServer(session, serverOpts...).Run(ctx, config.Global.HTTP.Address)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err)
	}
	log.Infof("Stopped app")
}

func openStore(ctx context.Context, c *config.Configuration) (store.Store, *redis.Client, error) {
	switch c.Store.Driver {
	case "file":
		log.Infof("cached provider kept in %s", c.Store.Path)
		return store.NewFile(c.Store.Path), nil, nil
	case "redis":
		rdb, err := store.DialRedis(ctx, &c.RedisCredential)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(rdb, c.Store.Prefix), rdb, nil
	case "memory":
		return store.NewMemory(), nil, nil
	}
	return nil, nil, errors.Errorf("unknown store driver %q", c.Store.Driver)
}

// modalOptions wires one websocket JSON-RPC factory per configured endpoint.
func modalOptions(st store.Store, endpoints map[string]string) []chooser.ModalOption {
	opts := []chooser.ModalOption{
		chooser.WithStore(st),
		chooser.WithPrompter(&chooser.TerminalPrompter{In: os.Stdin, Out: os.Stdout}),
	}
	for pkg, url := range endpoints {
		opts = append(opts, chooser.WithFactory(pkg, dialer(url)))
	}
	return opts
}

func dialer(url string) chooser.Factory {
	return func(ctx context.Context, id string, _ providers.Recipe) (wallet.RawProvider, error) {
		header := http.Header{}
		header.Set("X-Wallet-Provider", id)
		p, err := wsrpc.Dial(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
