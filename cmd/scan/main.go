// Command scan runs one acquisition or scan step and exits. It backs cron
// jobs and manual repairs next to the long-running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"goldenscan/internal/config"
	"goldenscan/internal/db"
	"goldenscan/internal/provider"
	"goldenscan/internal/repository"
	"goldenscan/internal/service"
	signalengine "goldenscan/internal/signal"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	loadEnvFunc = godotenv.Load
	connectDB   = db.Connect
)

type options struct {
	command string
	days    int
	kind    signalengine.Kind
}

func main() {
	loadEnvFunc()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatalf("parse options: %v", err)
	}

	cfg := config.Load()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pool, err := connectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	tracer := noop.NewTracerProvider().Tracer("scan-cli")
	barRepo := repository.NewBarRepository(pool, tracer)
	instrumentRepo := repository.NewInstrumentRepository(pool, tracer)
	if err := barRepo.RunMigrations(ctx); err != nil {
		log.Fatalf("run bar migrations: %v", err)
	}
	if err := instrumentRepo.RunMigrations(ctx); err != nil {
		log.Fatalf("run instrument migrations: %v", err)
	}

	client := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderUser, cfg.ProviderPassword, tracer)
	acquisition := service.NewAcquisitionService(tracer, cliGateway{client}, barRepo, instrumentRepo)
	acquisition.SetRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)

	switch opts.command {
	case "membership":
		if err := acquisition.FetchAllIndexMembership(ctx); err != nil {
			log.Fatalf("membership refresh: %v", err)
		}
		log.Println("membership refresh complete")
	case "backfill":
		fetched, err := acquisition.FetchAllDaily(ctx, opts.days)
		if err != nil {
			log.Fatalf("daily backfill: %v", err)
		}
		log.Printf("daily backfill complete: %d instruments", fetched)
	case "scan":
		scanService := service.NewScanService(tracer, barRepo, instrumentRepo, signalengine.NewEngine(), nil, nil)
		results, err := scanService.Scan(ctx, opts.kind)
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		log.Printf("%s scan complete: %d qualifying instruments", opts.kind, len(results))
		for _, r := range results {
			log.Printf(
				"%s %s avg_profit=%.2f ratio=%.4f win=%.2f trades=%d cross=%s",
				r.Code, r.Name, r.AvgProfit, r.AvgProfitRatio, r.WinProbability, r.TradeCount,
				r.LastCrossDate.Format("2006-01-02"),
			)
		}
	}
}

type cliGateway struct {
	client *provider.Client
}

func (g cliGateway) Login(ctx context.Context) (service.MarketSession, error) {
	session, err := g.client.Login(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func parseOptions(args []string) (options, error) {
	if len(args) == 0 {
		return options{}, fmt.Errorf("usage: scan membership|backfill|scan [flags]")
	}

	opts := options{command: strings.ToLower(strings.TrimSpace(args[0]))}
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	days := fs.Int("days", service.DefaultBackfillDays, "number of trailing days to backfill")
	kindRaw := fs.String("kind", string(signalengine.KindSMA), "scan kind: sma or macd")
	if err := fs.Parse(args[1:]); err != nil {
		return options{}, err
	}

	switch opts.command {
	case "membership":
	case "backfill":
		if *days <= 0 {
			return options{}, fmt.Errorf("days must be > 0")
		}
		opts.days = *days
	case "scan":
		kind := signalengine.Kind(strings.ToLower(strings.TrimSpace(*kindRaw)))
		if !kind.IsValid() {
			return options{}, fmt.Errorf("unsupported kind: %s", *kindRaw)
		}
		opts.kind = kind
	default:
		return options{}, fmt.Errorf("unknown command: %s", opts.command)
	}
	return opts, nil
}
