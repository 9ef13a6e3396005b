package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/tandem/pkg/bus"
	"github.com/odvcencio/tandem/pkg/config"
	"github.com/odvcencio/tandem/pkg/console"
	"github.com/odvcencio/tandem/pkg/ipc"
)

type eventsOptions struct {
	natsURL string
	prefix  string
	asJSON  bool
	noColor bool
}

func parseEventsFlags(args []string) (eventsOptions, error) {
	opts := eventsOptions{prefix: config.DefaultSubjectPrefix}
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.StringVar(&opts.natsURL, "nats", "", "NATS server URL (default from config or "+bus.DefaultConfig().URL+")")
	fs.StringVar(&opts.prefix, "prefix", opts.prefix, "subject prefix the server publishes under")
	fs.BoolVar(&opts.asJSON, "json", false, "print raw JSON messages")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// runEventsCommand tails file events that a server forwards to NATS.
func runEventsCommand(args []string) error {
	opts, err := parseEventsFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return withExitCode(err, exitUsage)
	}

	busCfg := bus.DefaultConfig()
	busCfg.Name = "tandem-events"
	if opts.natsURL != "" {
		busCfg.URL = opts.natsURL
	} else if cfg, err := config.Load(); err == nil && strings.TrimSpace(cfg.Bus.NATSURL) != "" {
		busCfg.URL = cfg.Bus.NATSURL
	}

	b, err := serveNewBusFn(busCfg)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	out := console.NewWithOutput(os.Stdout, console.Options{NoColor: opts.noColor})
	status := console.NewWithOutput(os.Stderr, console.Options{NoColor: opts.noColor})
	return tailEvents(ctx, b, opts, out, status)
}

func tailEvents(ctx context.Context, b bus.MessageBus, opts eventsOptions, out, status *console.Writer) error {
	subject := bus.Subject(opts.prefix, ">")
	sub, err := b.Subscribe(ctx, subject, func(msg *bus.Message) {
		printBusEvent(out, msg, opts.asJSON)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	status.Dim("listening on %s", subject)
	<-ctx.Done()
	return nil
}

func printBusEvent(out *console.Writer, msg *bus.Message, asJSON bool) {
	if msg == nil {
		return
	}
	if asJSON {
		out.Println("%s", msg.Data)
		return
	}
	var event ipc.BusMessage
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		out.Warn("%s: %s", msg.Subject, msg.Data)
		return
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	out.FileEvent(ts, event.Type, event.Path)
}
