package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// RunAudit reconciles every cached balance against an independent replay of
// the ledger and reports reserved sessions stuck past their expiry. It is
// read-only: discrepancies are reported and may trip the tenant's spending
// breaker, but nothing is corrected in place.
func (e *Engine) RunAudit(ctx context.Context) (*audit.Report, error) {
	report := &audit.Report{
		Entity:    types.NewEntity(),
		ID:        id.NewAuditRunID(),
		StartedAt: e.now(),
	}

	keys, err := e.store.ListBalanceKeys(ctx)
	if err != nil {
		return nil, err
	}

	tenants := make(map[string]bool)
	for _, key := range keys {
		tenants[key.TenantID] = true

		// Take and release the tenant lock per key so the audit never
		// starves live traffic.
		cached, computed, err := e.snapshotBalance(ctx, key.TenantID, key.Type)
		if err != nil {
			return nil, err
		}
		if cached == computed {
			continue
		}

		d := audit.Discrepancy{
			TenantID: key.TenantID,
			Type:     key.Type,
			Severity: audit.SeverityDrift,
			Cached:   cached,
			Computed: computed,
		}
		report.Discrepancies = append(report.Discrepancies, d)
		e.plugins.EmitDiscrepancyFound(ctx, d)
		e.logger.Warn("balance drift detected",
			"tenant", key.TenantID, "type", key.Type, "cached", cached, "computed", computed)

		if e.breaker != nil && d.Delta() > e.auditThreshold {
			e.breaker.Trip(key.TenantID, fmt.Sprintf("balance drift of %d on %s", d.Delta(), key.Type))
			e.logger.Error("spending suspended for tenant",
				"tenant", key.TenantID, "type", key.Type, "drift", d.Delta())
		}
	}
	report.TenantsScanned = len(tenants)

	// A session past expiry is normally the sweep's business. One still
	// reserved after two sweep intervals means the sweep is not keeping up.
	cutoff := e.now().Add(-2 * e.sweepInterval)
	stuck, err := e.store.ListExpiredSessions(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, s := range stuck {
		d := audit.Discrepancy{
			TenantID:  s.TenantID,
			Severity:  audit.SeverityStuck,
			SessionID: s.ID,
			Detail:    fmt.Sprintf("reserved session expired at %s not swept", s.ExpiresAt.Format(time.RFC3339)),
		}
		report.Discrepancies = append(report.Discrepancies, d)
		e.plugins.EmitDiscrepancyFound(ctx, d)
	}

	report.FinishedAt = e.now()
	if err := e.store.SaveAuditReport(ctx, report); err != nil {
		return nil, err
	}

	e.logger.Info("audit run finished",
		"run", report.ID, "tenants", report.TenantsScanned, "discrepancies", len(report.Discrepancies))

	return report, nil
}

// snapshotBalance reads the cached and recomputed balance under the tenant
// lock so both observe the same ledger state.
func (e *Engine) snapshotBalance(ctx context.Context, tenantID string, ct types.CreditType) (cached, computed int64, err error) {
	unlock := e.lockTenant(tenantID)
	defer unlock()

	cached, err = e.store.GetCachedBalance(ctx, tenantID, ct)
	if err != nil {
		return 0, 0, err
	}
	computed, err = e.store.SumTransactions(ctx, tenantID, ct)
	if err != nil {
		return 0, 0, err
	}
	return cached, computed, nil
}

// RepairBalance recomputes one cached balance from the ledger and overwrites
// the cache with it. Operator tooling for after an audit finds drift; live
// traffic never calls it.
func (e *Engine) RepairBalance(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	unlock := e.lockTenant(tenantID)
	defer unlock()

	computed, err := e.store.SumTransactions(ctx, tenantID, ct)
	if err != nil {
		return 0, err
	}
	if err := e.store.SetCachedBalance(ctx, tenantID, ct, computed); err != nil {
		return 0, err
	}
	e.logger.Info("cached balance repaired", "tenant", tenantID, "type", ct, "balance", computed)
	return computed, nil
}

// GetAuditReport retrieves one audit run's report.
func (e *Engine) GetAuditReport(ctx context.Context, runID id.AuditRunID) (*audit.Report, error) {
	return e.store.GetAuditReport(ctx, runID)
}

// ListAuditReports lists past audit reports.
func (e *Engine) ListAuditReports(ctx context.Context, opts audit.ListOpts) ([]*audit.Report, error) {
	return e.store.ListAuditReports(ctx, opts)
}

// auditWorker runs the reconciliation job on a fixed interval.
func (e *Engine) auditWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.auditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, err := e.RunAudit(context.Background()); err != nil {
				e.logger.Error("audit run failed", "error", err)
			}
		}
	}
}
