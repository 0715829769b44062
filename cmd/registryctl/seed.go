package main

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/service/seed"
)

func seedCommand() *Command {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.IntP("count", "n", 10, "number of fake patients to register")
	file := fs.StringP("file", "f", "", "register the patients in a JSON or JSONC file instead")
	randSeed := fs.Uint64("seed", 0, "random seed for generated data (0 picks one)")

	return &Command{
		Flags: fs,
		Usage: "seed [-n count] [-f file]",
		Short: "Register fake or file-supplied patients",
		Exec: func(ctx context.Context, app *App, _ []string) error {
			s := seed.NewSeeder(app.Service, *randSeed)

			var reqs []*model.RegisterPatientRequest
			if *file != "" {
				var err error
				if reqs, err = seed.LoadFile(*file); err != nil {
					return err
				}
			} else {
				if *count <= 0 {
					return errors.New("--count must be positive")
				}
				reqs = s.Generate(*count)
			}

			n, err := s.Seed(ctx, reqs)
			if err != nil {
				return err
			}
			total, err := s.Total(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "registered %d patients, %d in the registry\n", n, total)
			return nil
		},
	}
}
