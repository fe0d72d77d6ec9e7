package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"coinsentry/internal/config"
	"coinsentry/internal/exchange"
	"coinsentry/internal/logger"
	"coinsentry/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/coinsentry.db", "path to SQLite database")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)
	client := exchange.NewClient(cfg, log)

	ctx := context.Background()

	open, err := repo.FindPositionsByStatus(storage.StatusOpen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load positions error: %v\n", err)
		os.Exit(1)
	}

	if len(open) == 0 {
		fmt.Println("No open positions.")
		return
	}

	fmt.Printf("Found %d position(s):\n\n", len(open))
	for _, p := range open {
		price, err := client.Ticker(ctx, p.Market)
		cur := p.EntryPrice
		if err == nil {
			cur = price.TradePrice
		}
		pnlPct := 0.0
		if p.EntryPrice > 0 {
			pnlPct = (cur - p.EntryPrice) / p.EntryPrice * 100
		}
		fmt.Printf("  %s: qty %.8f, entry %.0f, current %.0f, P&L %+.2f%%\n",
			p.Market, p.Quantity, p.EntryPrice, cur, pnlPct)
	}
	fmt.Println()

	if *dryRun {
		fmt.Println("Dry run — no orders placed.")
		return
	}

	var closed, failed int
	for i := range open {
		p := &open[i]

		currency := exchange.AssetCurrency(p.Market)
		balance, err := client.Balance(ctx, currency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: balance: %v\n", p.Market, err)
			failed++
			continue
		}
		if balance <= 0 {
			fmt.Printf("  [SKIP] %s: no balance to sell\n", p.Market)
			continue
		}
		if balance > p.Quantity {
			balance = p.Quantity
		}

		order, err := client.SellMarket(ctx, p.Market, balance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: sell: %v\n", p.Market, err)
			failed++
			continue
		}

		p.Status = storage.StatusClosing
		p.CloseOrderID = order.UUID
		p.CloseReason = storage.ExitManual
		if err := repo.UpdatePosition(p); err != nil {
			fmt.Fprintf(os.Stderr, "  [WARN] %s: order placed but update failed: %v\n", p.Market, err)
		}

		fmt.Printf("  [OK] %s: close order %s submitted\n", p.Market, order.UUID)
		closed++
	}

	fmt.Printf("\nDone: %d submitted, %d failed. The bot confirms fills on next start.\n", closed, failed)
}
