// Package credits provides a multi-tenant credit ledger and reservation
// engine for Go applications.
//
// Credits is designed as a library, not a service. Import it directly into
// your Go application and back it with the store of your choice. It provides:
//
//   - An append-only transaction ledger with per-tenant running balances
//   - Idempotent posting and single-shot reversals
//   - Reservation sessions with reserve, commit, rollback, and expiry
//   - Monthly allocations driven by tiers and add-ons
//   - Bounded rollover of unused credits across billing periods
//   - A read-only audit job that recomputes balances from the ledger
//   - Retry, dead-letter, and circuit-breaker machinery for spend paths
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/credits"
//	    "github.com/xraph/credits/store/postgres"
//	)
//
//	st, err := postgres.Open(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := credits.New(st)
//
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// The ledger is the source of truth. Every balance change is an append-only
// transaction carrying a per-tenant sequence number and the balance after
// application. Cached balances exist for fast reads and can always be
// recomputed by summing the ledger.
//
// Reservation sessions place a hold on credits before an operation of
// uncertain cost runs, then settle against the actual cost:
//
//	sess, err := engine.Reserve(ctx, tenantID, credits.ReserveRequest{
//	    OperationType: "lead_enrichment",
//	    EstimatedCost: types.Lead(10),
//	})
//	...
//	err = engine.Commit(ctx, sess.ID, types.Lead(8))
//
// Tiers and add-ons define what a tenant receives each month; the allocation
// scheduler posts the monthly grant and rolls unused credits forward for a
// bounded number of periods.
//
// # Consistency
//
// All balance-affecting operations for a tenant are serialized inside the
// engine, so availability checks and ledger appends behave atomically per
// tenant regardless of the backing store. Amounts are plain int64 credit
// counts per credit type; there is no floating point anywhere in the ledger.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	ses_01h2xcejqtf2nbrexx3vqjhp41   // Session ID
//	roll_01h455vb4pex5vsknk084sn02q  // Rollover ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package credits
