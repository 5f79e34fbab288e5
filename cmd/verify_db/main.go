package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/db"
)

// verify_db checks the stored grants against the integrity rules the
// validator enforces at ingestion time.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var total, verified, informational, withAmount, withDeadline, badInformational int
	err = pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE confidence = 'verified-real-source'),
			count(*) FILTER (WHERE confidence = 'informational-only'),
			count(*) FILTER (WHERE amount_min IS NOT NULL OR amount_max IS NOT NULL),
			count(deadline),
			count(*) FILTER (WHERE confidence = 'informational-only' AND (amount_min IS NOT NULL OR amount_max IS NOT NULL OR deadline IS NOT NULL OR disclaimer = ''))
		FROM grants
	`).Scan(&total, &verified, &informational, &withAmount, &withDeadline, &badInformational)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	var families, postings int
	err = pool.QueryRow(ctx, `SELECT count(DISTINCT family_id), count(*) FROM grant_postings`).Scan(&families, &postings)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Total grants: %d\n", total)
	fmt.Printf("Verified: %d\n", verified)
	fmt.Printf("Informational: %d\n", informational)
	fmt.Printf("With amount: %d\n", withAmount)
	fmt.Printf("With deadline: %d\n", withDeadline)
	fmt.Printf("Recurrence families: %d (%d postings)\n", families, postings)
	if badInformational > 0 {
		log.Fatalf("%d informational rows carry an amount, a deadline or no disclaimer", badInformational)
	}
}
