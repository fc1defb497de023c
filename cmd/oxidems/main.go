package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/oxidems/server/internal/config"
	"github.com/oxidems/server/internal/data"
	"github.com/oxidems/server/internal/handler"
	gonet "github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"github.com/oxidems/server/internal/scripting"
	"github.com/oxidems/server/internal/status"
	"github.com/oxidems/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              OxideMS  login               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mServer:\033[0m %s \033[90m(v%d.%s, locale %d)\033[0m\n\n",
		cfg.Server.Name, cfg.Server.Version, cfg.Server.Patch, cfg.Server.Locale)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := strconv.Itoa(count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

func printWorlds(worlds *world.Table) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "World", "Channels", "Capacity", "Channel ports", "Flag"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, w := range worlds.All() {
		ports := "-"
		if n := len(w.Channels); n > 0 {
			ports = fmt.Sprintf("%s:%d-%d", w.Channels[0].Host, w.Channels[0].Port, w.Channels[n-1].Port)
		}
		tw.Append([]string{
			strconv.Itoa(w.ID),
			w.Name,
			strconv.Itoa(len(w.Channels)),
			strconv.Itoa(w.Capacity()),
			ports,
			strconv.Itoa(w.Flag),
		})
	}
	tw.Render()
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("OXIDEMS_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg)

	// 3. Connect to PostgreSQL, run migrations, clear stale logins
	printSection("Database")

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	db, err := persist.NewDB(initCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if err := persist.RunMigrations(initCtx, db.Pool, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")

	accountRepo := persist.NewAccountRepo(db)
	charRepo := persist.NewCharacterRepo(db)

	// No session survives a restart.
	stale, err := accountRepo.LogoutAll(initCtx)
	if err != nil {
		return fmt.Errorf("reset login states: %w", err)
	}
	printStat("stale logins cleared", int(stale))
	fmt.Println()

	// 4. Load data and scripts
	printSection("Data")

	starter, err := data.LoadStarterTable(cfg.Data.StarterItems)
	if err != nil {
		return fmt.Errorf("starter items: %w", err)
	}
	printStat("starter items", starter.Count())

	engine, err := scripting.NewEngine(cfg.Data.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer engine.Close()
	printOK("Lua scripts loaded")

	charset, err := packet.LookupCharset(cfg.Login.ClientCharset)
	if err != nil {
		return fmt.Errorf("client charset: %w", err)
	}
	printOK("client charset " + charset.Name())
	fmt.Println()

	// 5. Worlds
	printSection("Worlds")
	worlds := world.NewTable(cfg.Worlds)
	printWorlds(worlds)
	fmt.Println()

	// 6. Handlers and listener
	deps := &handler.Deps{
		Accounts:   accountRepo,
		Characters: charRepo,
		Factory:    engine,
		Worlds:     worlds,
		Starter:    starter,
		Config:     cfg,
		Charset:    charset,
		Log:        log,
	}
	pktReg := packet.NewRegistry(log)
	handler.RegisterAll(pktReg, deps)

	netServer, err := gonet.NewServer(cfg.Network.BindAddress, pktReg, gonet.Options{
		Version:        cfg.Server.Version,
		Patch:          cfg.Server.Patch,
		Locale:         cfg.Server.Locale,
		ReadTimeout:    cfg.Network.ReadTimeout,
		WriteTimeout:   cfg.Network.WriteTimeout,
		InQueueSize:    cfg.Network.InQueueSize,
		MaxConnections: cfg.Network.MaxConnections,
		OnClose:        handler.OnDisconnect(deps),
	}, log)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// 7. Serve until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return netServer.Serve(gctx)
	})
	if cfg.Status.Enabled {
		statusServer := status.NewServer(status.Options{
			BindAddress: cfg.Status.BindAddress,
			Debug:       cfg.Logging.Level == "debug",
			StartTime:   time.Unix(cfg.Server.StartTime, 0),
			ServerName:  cfg.Server.Name,
		}, db, netServer, worlds, log)
		g.Go(func() error {
			return statusServer.Serve(gctx)
		})
	}

	printSection("Ready")
	printReady(fmt.Sprintf("login listening on %s", netServer.Addr().String()))
	if cfg.Status.Enabled {
		printReady(fmt.Sprintf("status on http://%s/status", cfg.Status.BindAddress))
	}
	fmt.Println()

	err = g.Wait()
	log.Info("shutting down")

	// Every session has run its close hook by now; clear anything a crashed
	// hook left behind.
	cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCleanup()
	if n, lerr := accountRepo.LogoutAll(cleanupCtx); lerr != nil {
		log.Error("reset login states failed", zap.Error(lerr))
	} else if n > 0 {
		log.Info("login states reset", zap.Int64("accounts", n))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
