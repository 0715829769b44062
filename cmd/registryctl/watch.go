package main

import (
	"context"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jwalitptl/patient-registry/internal/live"
	"github.com/jwalitptl/patient-registry/internal/model"
)

func watchCommand() *Command {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	field := fs.String("field", string(model.SearchFirstName), "column to search")
	value := fs.String("value", "", "search term")
	sqlText := fs.String("sql", "", "watch this read-only statement instead of a search")
	interval := fs.Duration("interval", 0, "also re-run on this interval, for writes from processes on another broker")

	return &Command{
		Flags: fs,
		Usage: "watch [--field f --value v | --sql stmt]",
		Short: "Print a query's result every time the patients table changes",
		Exec: func(ctx context.Context, app *App, _ []string) error {
			req := &model.ExportRequest{
				Mode:  model.ModeSimple,
				Field: model.SearchField(*field),
				Value: *value,
			}
			if *sqlText != "" {
				req.Mode = model.ModeSQL
				req.SQL = *sqlText
			}
			q, err := app.Service.LiveQuery(req)
			if err != nil {
				return err
			}
			if q.Blank() {
				return fmt.Errorf("nothing to watch, pass --value or --sql")
			}

			hub := live.NewHub(app.Query, app.Broker, app.Log, app.Metrics)
			if err := hub.Start(ctx); err != nil {
				return err
			}
			defer hub.Close()

			w := live.NewWatcher(ctx, hub)
			defer w.Close()
			w.Set(q)

			var tick <-chan time.Time
			if *interval > 0 {
				t := time.NewTicker(*interval)
				defer t.Stop()
				tick = t.C
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-w.Done():
					return nil
				case <-tick:
					hub.Refresh(ctx)
				case r := <-w.Updates():
					printUpdate(app, r)
				}
			}
		},
	}
}

func printUpdate(app *App, r live.Result) {
	stamp := time.Now().Format(model.DisplayTimeLayout)
	switch r.Status {
	case live.StatusLoading:
		fmt.Fprintf(app.Out, "[%s] loading\n", stamp)
	case live.StatusError:
		fmt.Fprintf(app.Out, "[%s] error: %s\n", stamp, r.Error)
	case live.StatusSuccess:
		fmt.Fprintf(app.Out, "[%s] %d row(s)\n", stamp, len(r.Data.Rows))
		printResult(app.Out, &model.QueryResult{
			Fields:       r.Data.Fields,
			Rows:         r.Data.Rows,
			RowsAffected: r.Data.RowsAffected,
		})
	}
}
