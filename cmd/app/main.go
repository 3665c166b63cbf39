package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exec_quality/internal/app"
	"exec_quality/internal/engine"
)

const usage = `Usage: app <command> [flags]

Commands:
  run     run the ETL once over local CSV sources
  serve   start the HTTP API
  top     print the orders with the largest price improvement
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "serve":
		err = serveCmd(ctx, os.Args[2:])
	case "top":
		err = topCmd(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error("Command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func bootstrap(opts app.Options) (*app.Bootstrap, func(), error) {
	b := app.NewBootstrap()
	if err := b.Initialize(opts); err != nil {
		return nil, nil, err
	}
	return b, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Close(ctx); err != nil {
			slog.Warn("Shutdown incomplete", slog.Any("error", err))
		}
	}, nil
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", app.DefaultConfigPath, "path to the YAML config")
	orders := fs.String("orders", "", "orders CSV (overrides config)")
	trades := fs.String("trades", "", "trades CSV (overrides config)")
	nbbo := fs.String("nbbo", "", "NBBO quotes CSV (overrides config)")
	out := fs.String("out", "", "output directory (overrides config)")
	chunk := fs.Int("chunk-size", 0, "trades per window (overrides config)")
	unmatched := fs.String("unmatched", "", "unmatched trade policy: drop, fail or report")
	load := fs.Bool("load", false, "persist fills and summaries to the configured database")
	fs.Parse(args)

	b, closeFn, err := bootstrap(app.Options{ConfigPath: *configPath, Persist: *load})
	if err != nil {
		return err
	}
	defer closeFn()

	cfg := b.RunConfig()
	if *orders != "" {
		cfg.OrdersPath = *orders
	}
	if *trades != "" {
		cfg.TradesPath = *trades
	}
	if *nbbo != "" {
		cfg.QuotesPath = *nbbo
	}
	if *out != "" {
		cfg.OutputDir = *out
	}
	if *chunk > 0 {
		cfg.ChunkSize = *chunk
	}
	if *unmatched != "" {
		policy, err := engine.ParseUnmatchedPolicy(*unmatched)
		if err != nil {
			return err
		}
		cfg.UnmatchedPolicy = policy
	}

	res, err := b.Pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("fills:   %s (%d rows)\n", res.FillsPath, res.Rows.Fills)
	fmt.Printf("summary: %s (%d rows)\n", res.SummaryPath, res.Rows.Summary)
	for _, t := range res.Unmatched {
		fmt.Printf("unmatched: trade #%d order_id=%s\n", t.Seq, t.OrderID)
	}
	return nil
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", app.DefaultConfigPath, "path to the YAML config")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	b, closeFn, err := bootstrap(app.Options{ConfigPath: *configPath})
	if err != nil {
		return err
	}
	defer closeFn()

	listen := b.Config.Server.Addr
	if *addr != "" {
		listen = *addr
	}

	slog.InfoContext(ctx, "ETL API ready. Press Ctrl+C to exit.")
	err = b.Server().ListenAndServe(ctx, listen)
	slog.Info("Shutting down gracefully...")
	return err
}

func topCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	configPath := fs.String("config", app.DefaultConfigPath, "path to the YAML config")
	limit := fs.Int("limit", 5, "number of orders")
	fs.Parse(args)

	b, closeFn, err := bootstrap(app.Options{ConfigPath: *configPath})
	if err != nil {
		return err
	}
	defer closeFn()

	summaries, err := b.Results.Top(ctx, *limit)
	if err != nil {
		return err
	}

	type row struct {
		OrderID        string `json:"order_id"`
		FilledQty      string `json:"filled_qty"`
		VWAP           string `json:"vwap"`
		TotalPIDollars string `json:"total_pi_dollars"`
	}
	rows := make([]row, len(summaries))
	for i, s := range summaries {
		vwap := ""
		if s.VWAP.Valid {
			vwap = s.VWAP.Decimal.String()
		}
		rows[i] = row{s.OrderID, s.FilledQty.String(), vwap, s.TotalPIDollars.String()}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
