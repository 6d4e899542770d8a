package errors

import (
	"fmt"
	"time"

	"github.com/go-lark/lark"
	"moff.io/moff-wallet/pkg/log"
)

type larkReporter struct {
	bot   *lark.Bot
	delay *rateLimiter
}

// NewLarkReporter registers a lark webhook reporter that reports each call
// site at most once per silent period.
func NewLarkReporter(webhook string, silent time.Duration) {
	if webhook == "" {
		log.Warn("empty lark webhook found, skipping lark reporter initialization.")
		return
	}
	Register(&larkReporter{
		bot:   lark.NewNotificationBot(webhook),
		delay: newRateLimiter(silent),
	})
	log.Info("Lark error reporter initialized.")
}

func (r *larkReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := callers()
	limited, stats := r.delay.StackBasedRateLimited(stacks.origin())
	if limited {
		return
	}
	pb := lark.NewPostBuilder()
	pb.Title("Wallet session error")
	pb.TextTag(fmt.Sprintf("Last Report: %v", formatReportTime(stats.lastReportTime)), 1, true)
	pb.TextTag(fmt.Sprintf("\nError Count Since Last Report: %v", stats.occurCountSinceLastReport), 1, true)
	pb.TextTag(fmt.Sprintf("\nMessage: %v", err.Error()), 1, true)
	pb.TextTag("\nStacks:", 1, true)
	for _, s := range stacks.fullStack() {
		pb.TextTag(fmt.Sprintf("\n    %s", s), 1, true)
	}
	if _, err := r.bot.PostNotificationV2(lark.OutcomingMessage{
		MsgType: "post",
		Content: lark.MessageContent{
			Post: pb.Render(),
		},
	}); err != nil {
		log.Error(WithStack(err))
	}
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format("2006.01.02 15:04")
}
