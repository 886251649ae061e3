/*
main.go - Application entry point

PURPOSE:
  Starts the reminder engine server, or runs one-shot commands against the
  same database. Handles configuration, dependency injection, and graceful
  shutdown.

COMMANDS:
  serve   (default) HTTP API plus the reminder sweep
  query   Print the merged view of a window as JSON
  export  Write an owner's reminders as iCalendar

STARTUP SEQUENCE:
  1. Parse command line (kong)
  2. Load YAML config, writing defaults on first run
  3. Build logger
  4. Open SQLite store and engine
  5. Run the selected command

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server --config=./reminders.yaml
  ./server query --owner=user-1 --start=2025-01-01 --end=2025-01-31
  ./server export --owner=user-1 --out=reminders.ics

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/warp/reminder-engine/api"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/config"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/ical"
	"github.com/warp/reminder-engine/logger"
	"github.com/warp/reminder-engine/store/sqlite"
)

var CLI struct {
	Config string `help:"Config file path." type:"path" default:"reminders.yaml"`
	Debug  bool   `help:"Enable debug logging."`

	Serve  ServeCmd  `cmd:"" help:"Run the HTTP API." default:"1"`
	Query  QueryCmd  `cmd:"" help:"Print occurrences for a window."`
	Export ExportCmd `cmd:"" help:"Export reminders as iCalendar."`
}

// app is shared by all commands.
type app struct {
	cfg    *config.Config
	log    *log.Logger
	store  *sqlite.Store
	engine *engine.Engine
}

func (a *app) Close() error {
	return a.store.Close()
}

func newApp(configPath string, debug bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	l, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Debug:      debug,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := sqlite.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	e, err := engine.New(store, store,
		engine.WithLogger(l.WithPrefix("engine")),
		engine.WithMaxWindowDays(cfg.Engine.MaxWindowDays),
		engine.WithPromotionRetries(cfg.Engine.PromotionRetries),
		engine.WithDefaultColor(cfg.Engine.DefaultColor),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return &app{cfg: cfg, log: l, store: store, engine: e}, nil
}

// =============================================================================
// SERVE
// =============================================================================

type ServeCmd struct {
	Listen string `help:"Override the listen address."`
}

func (c *ServeCmd) Run(a *app) error {
	addr := a.cfg.Listen
	if c.Listen != "" {
		addr = c.Listen
	}

	handler := api.NewHandler(a.engine, a.store, a.log.WithPrefix("api"))
	router := api.NewRouter(handler, a.cfg.CORS.AllowedOrigins)

	var scheduler *api.ReminderScheduler
	if a.cfg.Scheduler.Enabled {
		scheduler = api.NewReminderScheduler(a.engine, a.store, a.log, a.cfg.Scheduler.Spec)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", addr, "database", a.cfg.Database)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		a.log.Info("shutting down", "signal", sig)
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// QUERY AND EXPORT
// =============================================================================

type QueryCmd struct {
	Owner string       `help:"Owner id." required:""`
	Start calendar.Day `help:"First day (yyyy-mm-dd)." required:""`
	End   calendar.Day `help:"Last day (yyyy-mm-dd)." required:""`
}

func (c *QueryCmd) Run(a *app) error {
	list, err := a.engine.Query(context.Background(), engine.OwnerID(c.Owner), c.Start, c.End)
	if err != nil {
		return err
	}

	type row struct {
		ID        string `json:"id"`
		Day       string `json:"day"`
		Title     string `json:"title"`
		Completed bool   `json:"completed"`
		Generated bool   `json:"generated"`
	}
	out := make([]row, len(list))
	for i, o := range list {
		out[i] = row{ID: o.ID.String(), Day: o.Day.String(), Title: o.Fields.Title, Completed: o.Completed, Generated: o.Generated}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type ExportCmd struct {
	Owner string `help:"Owner id." required:""`
	Out   string `help:"Output file; stdout when empty." type:"path"`
	Days  int    `help:"Days around today to include stored rows for." default:"365"`
}

func (c *ExportCmd) Run(a *app) error {
	today := calendar.Today()
	win, err := calendar.NewWindow(today.AddDays(-c.Days), today.AddDays(c.Days))
	if err != nil {
		return err
	}
	cal, err := ical.Export(context.Background(), a.store, engine.OwnerID(c.Owner), win)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err = io.WriteString(w, cal.Serialize())
	return err
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("reminders"),
		kong.Description("Recurring reminder engine"),
		kong.UsageOnError(),
	)

	a, err := newApp(CLI.Config, CLI.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := ctx.Run(a); err != nil {
		a.log.Error("command failed", "err", err)
		a.Close()
		os.Exit(1)
	}
}
