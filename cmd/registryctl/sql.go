package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

const (
	prompt         = "patients> "
	continuePrompt = "     ...> "
)

func sqlCommand() *Command {
	fs := flag.NewFlagSet("sql", flag.ContinueOnError)
	statement := fs.StringP("command", "c", "", "run one statement and exit")

	return &Command{
		Flags: fs,
		Usage: "sql [-c statement]",
		Short: "Run one statement, or open an interactive SQL shell",
		Exec: func(ctx context.Context, app *App, args []string) error {
			stmt := *statement
			if stmt == "" && len(args) > 0 {
				stmt = strings.Join(args, " ")
			}
			if stmt != "" {
				return execute(ctx, app, stmt)
			}
			return (&shell{app: app}).Run(ctx)
		},
	}
}

func execute(ctx context.Context, app *App, stmt string) error {
	result, err := app.Service.ExecuteSQL(ctx, stmt)
	if err != nil {
		return err
	}
	printResult(app.Out, result)
	return nil
}

// shell reads statements terminated by ";" and may span several lines.
type shell struct {
	app   *App
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".registryctl_history")
}

func (s *shell) Run(ctx context.Context) error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()
	s.liner.SetCtrlCAborts(true)
	s.liner.SetMultiLineMode(true)

	if f, err := os.Open(historyFile()); err == nil {
		s.liner.ReadHistory(f)
		f.Close()
	}
	defer s.saveHistory()

	fmt.Fprintf(s.app.Out, "connected to %s database, end statements with \";\", \\q quits\n", s.app.DB.Dialect.Name)

	var buf strings.Builder
	for ctx.Err() == nil {
		p := prompt
		if buf.Len() > 0 {
			p = continuePrompt
		}
		line, err := s.liner.Prompt(p)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) && buf.Len() > 0 {
				buf.Reset()
				continue
			}
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.app.Out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 {
			switch trimmed {
			case "":
				continue
			case `\q`, "exit", "quit":
				return nil
			}
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}

		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		s.liner.AppendHistory(strings.Join(strings.Fields(stmt), " "))

		if err := execute(ctx, s.app, strings.TrimSuffix(stmt, ";")); err != nil {
			fmt.Fprintln(s.app.Err, "error:", err)
		}
	}
	return nil
}

func (s *shell) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			s.liner.WriteHistory(f)
			f.Close()
		}
	}
}
