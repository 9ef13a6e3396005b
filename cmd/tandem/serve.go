package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/tandem/pkg/bus"
	"github.com/odvcencio/tandem/pkg/config"
	"github.com/odvcencio/tandem/pkg/filewatch"
	"github.com/odvcencio/tandem/pkg/ipc"
	"github.com/odvcencio/tandem/pkg/logging"
	"github.com/odvcencio/tandem/pkg/mirror"
	"github.com/odvcencio/tandem/pkg/scripts"
	"github.com/odvcencio/tandem/pkg/terminal"
)

var serveLoadConfigFn = config.Load
var serveLoadConfigFromPathFn = config.LoadFromPath
var serveNewBusFn = func(cfg bus.Config) (bus.MessageBus, error) {
	return bus.NewNATSBus(cfg)
}

type serveOptions struct {
	configPath     string
	bind           string
	source         string
	preview        string
	mode           string
	static         string
	shell          string
	natsURL        string
	allowedOrigins []string
}

func parseServeFlags(args []string) (serveOptions, error) {
	var opts serveOptions
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a config file (skips the default search)")
	fs.StringVar(&opts.bind, "bind", "", "address to bind the server (default :3000)")
	fs.StringVar(&opts.source, "source", "", "source directory (SOURCE_DIR)")
	fs.StringVar(&opts.preview, "preview", "", "preview directory (PREVIEW_DIR)")
	fs.StringVar(&opts.mode, "mode", "", "source type: local or git (SOURCE_TYPE)")
	fs.StringVar(&opts.static, "static", "", "directory with the built editor frontend")
	fs.StringVar(&opts.shell, "shell", "", "shell to run in terminals (default bash, powershell.exe on Windows)")
	fs.StringVar(&opts.natsURL, "nats", "", "publish file events to this NATS server")
	fs.Var(&stringListValue{target: &opts.allowedOrigins}, "allow-origin", "additional allowed Origin (repeatable, accepts comma-separated list)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// apply layers command line flags over the loaded configuration.
func (o serveOptions) apply(cfg *config.Config) {
	set := func(dst *string, val string) {
		if v := strings.TrimSpace(val); v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Bind, o.bind)
	set(&cfg.Server.StaticDir, o.static)
	set(&cfg.Workspace.SourceDir, o.source)
	set(&cfg.Workspace.PreviewDir, o.preview)
	set(&cfg.Workspace.SourceType, strings.ToLower(o.mode))
	set(&cfg.Terminal.Shell, o.shell)
	set(&cfg.Bus.NATSURL, o.natsURL)
	if len(o.allowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o.allowedOrigins...)
	}
}

func runServeCommand(args []string) error {
	opts, err := parseServeFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return withExitCode(err, exitUsage)
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = serveLoadConfigFromPathFn(opts.configPath)
	} else {
		cfg, err = serveLoadConfigFn()
	}
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return withExitCode(fmt.Errorf("config validation: %w", err), exitUsage)
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	for _, warning := range cfg.ValidationWarnings() {
		logger.Warn(warning)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	defer a.close()
	return a.run(ctx)
}

// app is the assembled server with the components it owns.
type app struct {
	cfg     *config.Config
	server  *ipc.Server
	mirror  *mirror.Mirror
	watcher *filewatch.FileWatcher
	bus     bus.MessageBus
	logger  *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	source, preview := config.ResolveRoots(cfg)
	mode, err := mirror.ParseMode(cfg.Workspace.SourceType)
	if err != nil {
		return nil, err
	}
	m, err := mirror.New(mirror.Options{
		SourceDir:  source,
		PreviewDir: preview,
		Mode:       mode,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	workspaceEnv := []string{
		"SOURCE_DIR=" + source,
		"PREVIEW_DIR=" + preview,
		"SOURCE_TYPE=" + string(mode),
	}
	watcher := filewatch.New(filewatch.Options{
		Roots:  []string{source, preview},
		Logger: logger,
	})
	terms := terminal.NewRegistry(terminal.Options{
		Shell:        cfg.Terminal.Shell,
		Args:         cfg.Terminal.Args,
		Env:          workspaceEnv,
		Dir:          m.ActiveRoot(),
		RespawnDelay: cfg.Terminal.RespawnDelay,
		Banner:       cfg.Terminal.Banner,
		Logger:       logger,
	})
	runner := scripts.NewRunner(scripts.Options{
		Commands: map[scripts.Name]string{
			scripts.Rebuild: cfg.Scripts.Rebuild,
			scripts.Sync:    cfg.Scripts.Sync,
		},
		Dir:    m.ActiveRoot(),
		Env:    workspaceEnv,
		Logger: logger,
	})

	server := ipc.NewServer(ipc.Config{
		BindAddress:       cfg.Server.Bind,
		StaticDir:         cfg.Server.StaticDir,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MaxClients:        cfg.Server.MaxClients,
		ScriptMinInterval: cfg.Scripts.MinInterval,
		Version:           version,
	}, ipc.Deps{
		Mirror:    m,
		Watcher:   watcher,
		Terminals: terms,
		Scripts:   runner,
		Logger:    logger,
	})

	a := &app{
		cfg:     cfg,
		server:  server,
		mirror:  m,
		watcher: watcher,
		logger:  logger,
	}
	a.connectBus()
	return a, nil
}

// connectBus attaches the NATS forwarder when a URL is configured. An
// unreachable server is logged and the editor keeps working without it.
func (a *app) connectBus() {
	url := strings.TrimSpace(a.cfg.Bus.NATSURL)
	if url == "" {
		return
	}
	busCfg := bus.DefaultConfig()
	busCfg.URL = url
	busCfg.Logger = a.logger
	if name := strings.TrimSpace(a.cfg.Bus.Name); name != "" {
		busCfg.Name = name
	}
	b, err := serveNewBusFn(busCfg)
	if err != nil {
		a.logger.Warn("message bus unavailable, file events stay local", "url", url, "error", err)
		return
	}
	a.bus = b
	a.server.Hub().AddForwarder(ipc.NewBusForwarder(b, a.cfg.Bus.SubjectPrefix, a.logger))
	a.logger.Info("publishing file events", "url", url, "prefix", a.cfg.Bus.SubjectPrefix)
}

// run starts watching and serving until ctx is cancelled or the listener
// fails. A watcher that cannot start only disables change events.
func (a *app) run(ctx context.Context) error {
	if err := a.watcher.Start(ctx); err != nil {
		a.logger.Warn("file watching disabled", "error", err)
	}
	a.logger.Info("workspace ready",
		"mode", a.mirror.Mode(),
		"source", a.mirror.SourceDir(),
		"preview", a.mirror.PreviewDir(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.watcher.Close()
	})
	return g.Wait()
}

func (a *app) close() {
	if a.bus != nil {
		_ = a.bus.Close()
	}
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s.target = append(*s.target, part)
		}
	}
	return nil
}
