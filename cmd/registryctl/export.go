package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/service/export"
)

func exportCommand() *Command {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	field := fs.String("field", string(model.SearchFirstName), "column to search")
	value := fs.String("value", "", "search term")
	sqlText := fs.String("sql", "", "select rows with this statement instead of a search")
	out := fs.StringP("out", "o", "", "output file (default patient_records_<date>.xlsx)")

	return &Command{
		Flags: fs,
		Usage: "export [--field f --value v | --sql stmt] [-o file]",
		Short: "Write matching records to an .xlsx file",
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

			result, err := app.Service.ExportRecords(ctx, req)
			if err != nil {
				return err
			}

			data, name, err := export.NewService(app.Metrics).Bytes(result.Rows)
			if err != nil {
				return err
			}
			if *out != "" {
				name = *out
			}
			if err := atomic.WriteFile(name, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("failed to write %s: %w", name, err)
			}

			fmt.Fprintf(app.Out, "wrote %d records to %s\n", len(result.Rows), name)
			return nil
		},
	}
}
