package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/basket/clawboard/internal/config"
	"github.com/basket/clawboard/internal/doctor"
	"github.com/basket/clawboard/internal/invoke"
)

func runDoctorCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("doctor", stderr)
	jsonOutput := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		// Keep going: the config check reports it.
		fmt.Fprintf(stderr, "config load: %v\n", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := invoke.New(ctx, cfg.InvokeOptions(), logger)
	if err != nil {
		fmt.Fprintf(stderr, "runtime adapter: %v\n", err)
		client = nil
	}

	diag := doctor.Run(ctx, &cfg, client, Version)

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		doctor.Print(stdout, diag)
	}

	if !diag.Healthy() {
		return 1
	}
	return 0
}
