package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Hexidecibel/companion/internal/core/convo"
	"github.com/Hexidecibel/companion/internal/core/eventbus"
	"github.com/Hexidecibel/companion/internal/core/tmux"
	"github.com/Hexidecibel/companion/internal/watcher"
	"github.com/Hexidecibel/companion/pkg/executil"
	"github.com/Hexidecibel/companion/pkg/iojson"
)

type WatchCmd struct {
	flags *Flags
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Watch session logs and stream events",
		UsageText: "companion watch",
		Description: `Watches the assistant CLI's log store for tagged tmux sessions and
streams every detected state transition to stdout as JSON lines, one
event per line. Runs until interrupted.`,
		Action: cmd.Run,
	})
	return app
}

// eventLine is the stdout wire format: one JSON object per emitted event.
type eventLine struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data"`
}

func (cmd *WatchCmd) Run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	client := tmux.New(&executil.RealExecutor{}, cfg.TmuxPath)
	parser := convo.NewParser(cfg.Tools)
	resolver := watcher.NewResolver(client, cfg.SessionTag)
	tracker := watcher.NewTracker(parser, resolver, cfg.Watcher.HistoryLimit)
	bus := eventbus.New()

	out := c.Root().Writer
	emit := func(event string, data any) {
		if err := iojson.WriteLine(out, eventLine{Event: event, Time: time.Now(), Data: data}); err != nil {
			log.Error().Err(err).Str("event", event).Msg("write event line")
		}
	}

	bus.SubscribeConversationUpdate(func(p eventbus.ConversationUpdatePayload) {
		emit(string(eventbus.EventConversationUpdate), p)
	})
	bus.SubscribeStatusChange(func(p eventbus.StatusChangePayload) {
		emit(string(eventbus.EventStatusChange), p)
	})
	bus.SubscribePendingApproval(func(p eventbus.PendingApprovalPayload) {
		emit(string(eventbus.EventPendingApproval), p)
	})
	bus.SubscribeErrorDetected(func(p eventbus.ErrorDetectedPayload) {
		emit(string(eventbus.EventErrorDetected), p)
	})
	bus.SubscribeSessionCompleted(func(p eventbus.SessionCompletedPayload) {
		emit(string(eventbus.EventSessionCompleted), p)
	})
	bus.SubscribeCompaction(func(p eventbus.CompactionPayload) {
		emit(string(eventbus.EventCompaction), p)
	})
	bus.SubscribeOtherSessionActivity(func(p eventbus.OtherSessionActivityPayload) {
		emit(string(eventbus.EventOtherSessionActivity), p)
	})
	bus.SubscribeWatcherError(func(p eventbus.WatcherErrorPayload) {
		emit(string(eventbus.EventWatcherError), map[string]string{"error": p.Err.Error()})
	})

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(watcher.Options{
		Config:   cfg,
		Parser:   parser,
		Tracker:  tracker,
		Resolver: resolver,
		Bus:      bus,
	})
	if err := w.Start(runCtx); err != nil {
		return err
	}
	defer w.Stop()

	log.Info().Str("root", cfg.LogRoot).Msg("watching session logs")
	<-runCtx.Done()
	return nil
}
