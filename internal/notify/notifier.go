package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"lintas/internal/bus"
	"lintas/internal/counting"
)

// Cooldown kinds. Each notification family rate-limits independently so
// a summary cannot silence a failure alert.
const (
	kindStatus  = "status"
	kindAlert   = "alert"
	kindSummary = "summary"
)

type statusNote struct {
	status string
	errMsg string
	frame  []byte
}

// Notifier turns bus events into Telegram messages. Event handling only
// records state and queues work; all network calls happen on the Run
// goroutine so a slow Telegram API never stalls the pipeline.
type Notifier struct {
	bot             *Bot
	source          string
	summaryInterval time.Duration

	mu         sync.Mutex
	lastCounts counting.Counts
	lastFrame  []byte

	statusCh chan statusNote
}

// NewNotifier creates a notifier. source names the watched input in the
// messages. A zero summaryInterval disables periodic summaries.
func NewNotifier(bot *Bot, source string, summaryInterval time.Duration) *Notifier {
	return &Notifier{
		bot:             bot,
		source:          source,
		summaryInterval: summaryInterval,
		statusCh:        make(chan statusNote, 4),
	}
}

// Enabled reports whether the notifier will actually send anything.
func (n *Notifier) Enabled() bool {
	return n.bot != nil && n.bot.Configured()
}

// OnPipelineEvent implements bus.Handler.
func (n *Notifier) OnPipelineEvent(event *bus.Event) {
	if !n.Enabled() {
		return
	}

	switch event.Kind {
	case bus.KindFrame:
		n.mu.Lock()
		n.lastFrame = event.Frame
		n.mu.Unlock()
	case bus.KindCounts:
		n.mu.Lock()
		n.lastCounts = event.Counts
		n.mu.Unlock()
	case bus.KindStatus:
		n.mu.Lock()
		frame := n.lastFrame
		n.mu.Unlock()

		select {
		case n.statusCh <- statusNote{status: event.Status, errMsg: event.Err, frame: frame}:
		default:
			// Queue full; the newest status supersedes anyway.
		}
	}
}

// Run delivers queued status notices and periodic summaries until the
// context is cancelled. No-op when the bot is not configured.
func (n *Notifier) Run(ctx context.Context) {
	if !n.Enabled() {
		return
	}

	var summaryCh <-chan time.Time
	if n.summaryInterval > 0 {
		ticker := time.NewTicker(n.summaryInterval)
		defer ticker.Stop()
		summaryCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-n.statusCh:
			n.sendStatus(ctx, note)
		case <-summaryCh:
			n.sendSummary(ctx)
		}
	}
}

func (n *Notifier) sendStatus(ctx context.Context, note statusNote) {
	stamp := localTimestamp()

	var err error
	switch note.status {
	case bus.StatusRunning:
		text := fmt.Sprintf(
			"🟢 <b>Counting started</b>\n\n📹 Source: %s\n🕐 Time: %s",
			n.source, stamp)
		err = n.bot.SendMessage(ctx, kindStatus, text)
	case bus.StatusStopped:
		in, out := n.totals()
		text := fmt.Sprintf(
			"⏹️ <b>Counting stopped</b>\n\n⬆️ In: %d\n⬇️ Out: %d\n🕐 Time: %s",
			in, out, stamp)
		err = n.bot.SendMessage(ctx, kindStatus, text)
	case bus.StatusFailed:
		text := fmt.Sprintf(
			"🚨 <b>Counting failed!</b>\n\n⚠️ Error: %s\n📹 Source: %s\n🕐 Time: %s",
			note.errMsg, n.source, stamp)
		if len(note.frame) > 0 {
			err = n.bot.SendPhoto(ctx, kindAlert, note.frame, text)
		} else {
			err = n.bot.SendMessage(ctx, kindAlert, text)
		}
	}

	if err != nil {
		log.Printf("[Notifier] failed to send %s notice: %v", note.status, err)
	}
}

func (n *Notifier) sendSummary(ctx context.Context) {
	n.mu.Lock()
	counts := n.lastCounts
	n.mu.Unlock()
	if counts == nil {
		return
	}

	in, out := counts.Totals()
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>Traffic summary</b>\n\n⬆️ In: %d\n⬇️ Out: %d", in, out)

	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		cc := counts[class]
		if cc.In == 0 && cc.Out == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n• %s: %d in / %d out", class, cc.In, cc.Out)
	}
	fmt.Fprintf(&sb, "\n🕐 Time: %s", localTimestamp())

	if err := n.bot.SendMessage(ctx, kindSummary, sb.String()); err != nil {
		log.Printf("[Notifier] failed to send summary: %v", err)
	}
}

func (n *Notifier) totals() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastCounts == nil {
		return 0, 0
	}
	return n.lastCounts.Totals()
}

func localTimestamp() string {
	now := time.Now()
	zoneName, _ := now.Zone()
	return fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)
}

var _ bus.Handler = (*Notifier)(nil)
