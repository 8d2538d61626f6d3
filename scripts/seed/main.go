package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/app"
	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/store/postgres"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.StoreDriver != app.DriverPostgres {
		log.Fatalf("seed requires STORE_DRIVER=%s", app.DriverPostgres)
	}
	cfg.AutoMigrate = true
	svc, err := app.Build(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		log.Fatalf("build services: %v", err)
	}
	defer svc.Close()
	store, ok := svc.Backend.(*postgres.Store)
	if !ok {
		log.Fatalf("unexpected backend %T", svc.Backend)
	}

	fmt.Println("→ Seeding parties...")
	if err := seedParties(ctx, store); err != nil {
		log.Fatalf("seed parties: %v", err)
	}
	fmt.Println("→ Seeding ledgers...")
	if err := seedLedgers(ctx, svc.Ledgers); err != nil {
		log.Fatalf("seed ledgers: %v", err)
	}
	fmt.Println("→ Seeding items...")
	if err := seedItems(ctx, store); err != nil {
		log.Fatalf("seed items: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedParties(ctx context.Context, store *postgres.Store) error {
	parties := []posting.Party{
		{ID: 1, Name: "Acme Retail", Kind: posting.PartyCustomer, CreditLimit: decimal.NewFromInt(5000)},
		{ID: 2, Name: "Walk-in Customer", Kind: posting.PartyCustomer},
		{ID: 3, Name: "Northwind Supply", Kind: posting.PartySupplier},
	}
	for _, p := range parties {
		if err := store.PutParty(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func seedLedgers(ctx context.Context, svc *ledger.Service) error {
	ledgers := []ledger.NewLedger{
		{Name: "Main Bank", Type: ledger.TypeBank, OpeningBalance: decimal.NewFromInt(10000)},
		{Name: "Office Expenses", Type: ledger.TypeExpense},
		{Name: "Other Income", Type: ledger.TypeIncome},
	}
	for _, in := range ledgers {
		_, err := svc.Create(ctx, in)
		if errors.Is(err, ledger.ErrDuplicateName) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", in.Name, err)
		}
	}
	return nil
}

func seedItems(ctx context.Context, store *postgres.Store) error {
	ids, err := store.ItemIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		fmt.Println("  items already present, skipping")
		return nil
	}
	items := []struct {
		name    string
		opening int64
	}{
		{"Widget", 100},
		{"Gadget", 40},
		{"Spare Part", 0},
	}
	return store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		for _, it := range items {
			if _, err := inventory.CreateItem(ctx, tx.Stock(), it.name, decimal.NewFromInt(it.opening), time.Now().UTC()); err != nil {
				return fmt.Errorf("%s: %w", it.name, err)
			}
		}
		return nil
	})
}
