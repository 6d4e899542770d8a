package errors

import (
	"os"
	"sync"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/moff-wallet/pkg/log"
)

// Setting this env var disables every reporter.
const debugMode = "DEBUG"

// Reporter receives errors built with the *AndReport helpers.
type Reporter interface {
	Report(error)
}

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// Register adds r to the reporters notified by the *AndReport helpers.
func Register(r Reporter) {
	if r == nil {
		return
	}
	reportersMu.Lock()
	reporters = append(reporters, r)
	reportersMu.Unlock()
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	reporters = nil
	reportersMu.Unlock()
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	current := make([]Reporter, len(reporters))
	copy(current, reporters)
	reportersMu.RUnlock()
	for _, r := range current {
		r.Report(err)
	}
}

type sentryReporter struct{}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// NewSentryReporter initialises the sentry client and registers it as a reporter.
// An empty DSN skips initialisation.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:     sentryDSN,
		CaCerts: rootCAs,
	}); err != nil {
		return Wrap(err, "init sentry")
	}
	Register(&sentryReporter{})
	log.Info("sentry error reporter initialized.")
	return nil
}
