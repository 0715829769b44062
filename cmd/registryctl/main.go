// registryctl administers a patient registry database from the terminal.
//
// Usage:
//
//	registryctl [--config path] <command> [flags]
//
// Commands:
//
//	seed      Register fake or file-supplied patients
//	export    Write matching records to an .xlsx file
//	sql       Run one statement, or open an interactive SQL shell
//	watch     Print a query's result every time the patients table changes
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/jwalitptl/patient-registry/internal/config"
	"github.com/jwalitptl/patient-registry/internal/repository"
	"github.com/jwalitptl/patient-registry/internal/repository/store"
	"github.com/jwalitptl/patient-registry/internal/service/patient"
	"github.com/jwalitptl/patient-registry/pkg/logger"
	"github.com/jwalitptl/patient-registry/pkg/messaging"
	"github.com/jwalitptl/patient-registry/pkg/messaging/redis"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
)

// Command is one subcommand with its own flag set.
type Command struct {
	Flags *flag.FlagSet
	Usage string
	Short string
	Exec  func(ctx context.Context, app *App, args []string) error
}

func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *Command) printHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: registryctl", c.Usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Short)
	if c.Flags != nil && c.Flags.HasFlags() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		c.Flags.SetOutput(w)
		c.Flags.PrintDefaults()
	}
}

// App holds what every command needs once the database is open.
type App struct {
	Out     io.Writer
	Err     io.Writer
	Config  *config.Config
	Log     *logger.Logger
	DB      *store.DB
	Broker  messaging.Broker
	Metrics *metrics.Metrics
	Query   repository.QueryRepository
	Service *patient.Service
}

func (a *App) Close() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func commands() []*Command {
	return []*Command{seedCommand(), exportCommand(), sqlCommand(), watchCommand()}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("registryctl", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(io.Discard)
	configPath := global.StringP("config", "c", "", "path to config file")
	verbose := global.BoolP("verbose", "v", false, "log at debug level")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		printUsage(stderr)
		return 1
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 1
	}

	var cmd *Command
	for _, c := range commands() {
		if c.Name() == rest[0] {
			cmd = c
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "error: unknown command %q\n", rest[0])
		printUsage(stderr)
		return 1
	}

	cmd.Flags.SetOutput(io.Discard)
	if err := cmd.Flags.Parse(rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			cmd.printHelp(stdout)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		cmd.printHelp(stderr)
		return 1
	}

	app, err := open(ctx, *configPath, *verbose, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer app.Close()

	if err := cmd.Exec(ctx, app, cmd.Flags.Args()); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: registryctl [--config path] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-32s %s\n", c.Usage, c.Short)
	}
}

func open(ctx context.Context, configPath string, verbose bool, stdout, stderr io.Writer) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logger.DebugLevel
	}
	lg := logger.NewLogger(&logger.Config{Level: level, Format: cfg.Log.Format, Output: stderr})

	db, err := store.NewDB(ctx, store.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Name:         cfg.Database.Name,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		Out:     stdout,
		Err:     stderr,
		Config:  cfg,
		Log:     lg,
		DB:      db,
		Metrics: metrics.New("registryctl"),
		Query:   store.NewQueryRepository(db),
	}

	// Only a shared broker lets a running server see writes made here.
	if strings.EqualFold(cfg.Broker.Kind, "redis") {
		b, err := redis.NewRedisBroker(ctx, redis.Config{
			URL:          cfg.Broker.Redis.URL,
			Prefix:       cfg.Broker.Redis.Prefix,
			MaxRetries:   cfg.Broker.Redis.MaxRetries,
			RetryBackoff: cfg.Broker.Redis.RetryBackoff,
			PoolSize:     cfg.Broker.Redis.PoolSize,
			MinIdleConns: cfg.Broker.Redis.MinIdleConns,
		}, lg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Broker = b
	} else {
		app.Broker = messaging.NewMemoryBroker(0)
	}

	app.Service = patient.NewService(store.NewPatientRepository(db), app.Query, patient.Options{
		Broker:   app.Broker,
		Logger:   lg,
		Metrics:  app.Metrics,
		CacheTTL: cfg.Cache.TTL,
		Source:   "registryctl",
	})
	return app, nil
}
