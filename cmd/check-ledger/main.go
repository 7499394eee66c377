// Package main is a diagnostic tool that audits a PostgreSQL ledger for consistency.
// It reloads the server configuration, connects to the database and verifies that
// every project's listed count equals the credits recorded in its sale events, that
// every sale event records exactly its price, that no balance is negative and that the
// total currency supply still matches the configured genesis balances. The binary exits non-zero on any violation so it can
// gate deployments or run as a scheduled check.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db"
	"github.com/jmoiron/sqlx"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Ledger.Backend != "postgres" {
		log.Fatalf("check-ledger requires ledger.backend=postgres (got %s)", cfg.Ledger.Backend)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var genesis int64
	for _, balance := range cfg.Ledger.GenesisBalances {
		genesis += balance
	}

	report, err := checkLedger(ctx, sqlx.NewDb(database, "postgres"), genesis)
	if err != nil {
		log.Fatalf("Check failed: %v", err)
	}

	fmt.Println("=== LEDGER ===")
	fmt.Printf("Projects: %d\n", report.Projects)
	fmt.Printf("Sale events: %d\n", report.SaleEvents)
	fmt.Printf("Currency supply: %d (genesis %d)\n", report.Supply, genesis)

	if len(report.Violations) == 0 {
		fmt.Println("\nLedger is consistent")
		return
	}
	fmt.Printf("\n=== VIOLATIONS (%d) ===\n", len(report.Violations))
	for _, v := range report.Violations {
		fmt.Println(v)
	}
	os.Exit(1)
}

// report summarizes one consistency pass
type report struct {
	Projects   int
	SaleEvents int
	Supply     int64
	Violations []string
}

type projectTally struct {
	OrgID     string `db:"org_id"`
	Index     int    `db:"project_index"`
	Amount    int64  `db:"cct_amount"`
	Listed    int64  `db:"cct_listed"`
	Sold      int64  `db:"sold"`
	SaleCount int    `db:"sale_count"`
}

type mispricedSale struct {
	Sequence int64  `db:"sequence"`
	OrgID    string `db:"org_id"`
	Index    int    `db:"project_index"`
	Price    int64  `db:"price"`
	Paid     int64  `db:"amount_paid"`
}

type negativeBalance struct {
	ID      string `db:"id"`
	Balance int64  `db:"balance"`
}

const projectTallyQuery = `
	SELECT p.org_id, p.project_index, p.cct_amount, p.cct_listed,
	       COALESCE(SUM(e.quantity), 0) AS sold, COUNT(e.sequence) AS sale_count
	FROM projects p
	LEFT JOIN sale_events e ON e.org_id = p.org_id AND e.project_index = p.project_index
	GROUP BY p.org_id, p.project_index, p.cct_amount, p.cct_listed
	ORDER BY p.org_id, p.project_index`

const mispricedQuery = `
	SELECT sequence, org_id, project_index, quantity * unit_price AS price, amount_paid
	FROM sale_events
	WHERE amount_paid <> quantity * unit_price
	ORDER BY sequence`

const negativeBalanceQuery = `SELECT id, balance FROM accounts WHERE balance < 0 ORDER BY id`

const supplyQuery = `SELECT COALESCE(SUM(balance), 0) FROM accounts`

// checkLedger runs every consistency query against q
func checkLedger(ctx context.Context, q sqlx.QueryerContext, genesis int64) (*report, error) {
	r := &report{}

	var tallies []projectTally
	if err := sqlx.SelectContext(ctx, q, &tallies, projectTallyQuery); err != nil {
		return nil, fmt.Errorf("failed to tally projects: %w", err)
	}
	r.Projects = len(tallies)
	for _, t := range tallies {
		r.SaleEvents += t.SaleCount
		if t.Listed > t.Amount {
			r.Violations = append(r.Violations, fmt.Sprintf("project %s/%d: listed %d exceeds allotment %d",
				t.OrgID, t.Index, t.Listed, t.Amount))
		}
		if t.Listed != t.Sold {
			r.Violations = append(r.Violations, fmt.Sprintf("project %s/%d: listed %d but sale events record %d",
				t.OrgID, t.Index, t.Listed, t.Sold))
		}
	}

	var mispriced []mispricedSale
	if err := sqlx.SelectContext(ctx, q, &mispriced, mispricedQuery); err != nil {
		return nil, fmt.Errorf("failed to check sale payments: %w", err)
	}
	for _, s := range mispriced {
		r.Violations = append(r.Violations, fmt.Sprintf("sale %d on %s/%d: paid %d for price %d",
			s.Sequence, s.OrgID, s.Index, s.Paid, s.Price))
	}

	var negative []negativeBalance
	if err := sqlx.SelectContext(ctx, q, &negative, negativeBalanceQuery); err != nil {
		return nil, fmt.Errorf("failed to check balances: %w", err)
	}
	for _, a := range negative {
		r.Violations = append(r.Violations, fmt.Sprintf("account %s: negative balance %d", a.ID, a.Balance))
	}

	if err := sqlx.GetContext(ctx, q, &r.Supply, supplyQuery); err != nil {
		return nil, fmt.Errorf("failed to sum balances: %w", err)
	}
	if r.Supply != genesis {
		r.Violations = append(r.Violations, fmt.Sprintf("currency supply %d differs from genesis total %d", r.Supply, genesis))
	}

	return r, nil
}
