package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

func newTxn(tenantID string, ct types.CreditType, credit, debit int64, key string) *transaction.Transaction {
	return &transaction.Transaction{
		Entity:         types.NewEntity(),
		ID:             id.NewTransactionID(),
		TenantID:       tenantID,
		Type:           ct,
		Kind:           transaction.KindPurchase,
		CreditAmount:   credit,
		DebitAmount:    debit,
		Status:         transaction.StatusCompleted,
		IdempotencyKey: key,
	}
}

func TestAppendAssignsSequenceAndBalance(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := newTxn("t1", types.CreditLead, 100, 0, "k1")
	if err := s.AppendTransaction(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Sequence != 1 || first.BalanceAfter != 100 {
		t.Errorf("first = seq %d bal %d, want 1/100", first.Sequence, first.BalanceAfter)
	}

	second := newTxn("t1", types.CreditLead, 0, 30, "k2")
	if err := s.AppendTransaction(ctx, second); err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Sequence != 2 || second.BalanceAfter != 70 {
		t.Errorf("second = seq %d bal %d, want 2/70", second.Sequence, second.BalanceAfter)
	}

	// Sequences are scoped per (tenant, type).
	other := newTxn("t1", types.CreditEmail, 10, 0, "k3")
	if err := s.AppendTransaction(ctx, other); err != nil {
		t.Fatalf("append: %v", err)
	}
	if other.Sequence != 1 {
		t.Errorf("other type sequence = %d, want 1", other.Sequence)
	}

	bal, err := s.GetCachedBalance(ctx, "t1", types.CreditLead)
	if err != nil || bal != 70 {
		t.Errorf("cached balance = %d (%v), want 70", bal, err)
	}
}

func TestAppendRejectsDuplicateIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.AppendTransaction(ctx, newTxn("t1", types.CreditLead, 100, 0, "same")); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := s.AppendTransaction(ctx, newTxn("t1", types.CreditLead, 100, 0, "same"))
	if !errors.Is(err, credits.ErrDuplicateIdempotencyKey) {
		t.Errorf("err = %v, want ErrDuplicateIdempotencyKey", err)
	}

	got, err := s.GetTransactionByIdempotencyKey(ctx, "same")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.CreditAmount != 100 {
		t.Errorf("lookup returned wrong row: %+v", got)
	}
}

func TestAppendReversalFlipsParent(t *testing.T) {
	s := New()
	ctx := context.Background()

	parent := newTxn("t1", types.CreditLead, 0, 40, "k1")
	parent.Kind = transaction.KindUsage
	if err := s.AppendTransaction(ctx, parent); err != nil {
		t.Fatalf("append parent: %v", err)
	}

	rev := newTxn("t1", types.CreditLead, 40, 0, "rev:"+parent.ID.String())
	rev.Kind = transaction.KindReversal
	rev.ParentID = parent.ID
	if err := s.AppendTransaction(ctx, rev); err != nil {
		t.Fatalf("append reversal: %v", err)
	}

	stored, _ := s.GetTransaction(ctx, parent.ID)
	if stored.Status != transaction.StatusReversed {
		t.Errorf("parent status = %s, want reversed", stored.Status)
	}

	byParent, err := s.GetReversal(ctx, parent.ID)
	if err != nil || byParent.ID != rev.ID {
		t.Errorf("GetReversal = %+v (%v), want the reversal row", byParent, err)
	}

	// A second reversal of the same parent is rejected.
	again := newTxn("t1", types.CreditLead, 40, 0, "rev2")
	again.ParentID = parent.ID
	if err := s.AppendTransaction(ctx, again); !errors.Is(err, credits.ErrAlreadyReversed) {
		t.Errorf("second reversal: err = %v, want ErrAlreadyReversed", err)
	}
}

func TestSumTransactionsMatchesLedger(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.AppendTransaction(ctx, newTxn("t1", types.CreditLead, 100, 0, "k1"))
	_ = s.AppendTransaction(ctx, newTxn("t1", types.CreditLead, 0, 30, "k2"))
	_ = s.AppendTransaction(ctx, newTxn("t1", types.CreditEmail, 7, 0, "k3"))
	_ = s.AppendTransaction(ctx, newTxn("t2", types.CreditLead, 5, 0, "k4"))

	sum, err := s.SumTransactions(ctx, "t1", types.CreditLead)
	if err != nil || sum != 70 {
		t.Errorf("sum = %d (%v), want 70", sum, err)
	}
}

func TestTransitionSessionCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()

	sess := &session.Session{
		Entity:        types.NewEntity(),
		ID:            id.NewSessionID(),
		TenantID:      "t1",
		OperationType: "op",
		EstimatedCost: types.Lead(10),
		Status:        session.StatusReserved,
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.TransitionSession(ctx, sess.ID, session.StatusReserved, session.StatusCommitted, types.Lead(8))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.Status != session.StatusCommitted || got.ActualCost.Get(types.CreditLead) != 8 {
		t.Errorf("session = %+v, want committed with actual 8", got)
	}

	// Losing the compare-and-set reports a conflict.
	err = s.TransitionSession(ctx, sess.ID, session.StatusReserved, session.StatusExpired, nil)
	if !errors.Is(err, credits.ErrAlreadyTerminal) {
		t.Errorf("lost cas: err = %v, want ErrAlreadyTerminal", err)
	}

	err = s.TransitionSession(ctx, id.NewSessionID(), session.StatusReserved, session.StatusExpired, nil)
	if !errors.Is(err, credits.ErrSessionNotFound) {
		t.Errorf("missing session: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSumReservedCountsOnlyReservedSessions(t *testing.T) {
	s := New()
	ctx := context.Background()

	mk := func(status session.Status, n int64) {
		t.Helper()
		sess := &session.Session{
			Entity:        types.NewEntity(),
			ID:            id.NewSessionID(),
			TenantID:      "t1",
			OperationType: "op",
			EstimatedCost: types.Lead(n),
			Status:        status,
			ExpiresAt:     time.Now().Add(time.Minute),
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mk(session.StatusReserved, 10)
	mk(session.StatusReserved, 5)
	mk(session.StatusCommitted, 100)
	mk(session.StatusExpired, 100)

	sum, err := s.SumReserved(ctx, "t1", types.CreditLead)
	if err != nil || sum != 15 {
		t.Errorf("sum reserved = %d (%v), want 15", sum, err)
	}
}

func TestListExpiredSessionsOrderAndCutoff(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Now()
	mk := func(expiresAt time.Time) id.SessionID {
		sess := &session.Session{
			Entity:        types.NewEntity(),
			ID:            id.NewSessionID(),
			TenantID:      "t1",
			OperationType: "op",
			EstimatedCost: types.Lead(1),
			Status:        session.StatusReserved,
			ExpiresAt:     expiresAt,
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("create: %v", err)
		}
		return sess.ID
	}
	oldest := mk(now.Add(-2 * time.Hour))
	mk(now.Add(time.Hour)) // still live
	middle := mk(now.Add(-1 * time.Hour))

	expired, err := s.ListExpiredSessions(ctx, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("got %d expired, want 2", len(expired))
	}
	if expired[0].ID != oldest || expired[1].ID != middle {
		t.Error("expired sessions not ordered oldest first")
	}

	limited, _ := s.ListExpiredSessions(ctx, now, 1)
	if len(limited) != 1 || limited[0].ID != oldest {
		t.Error("limit did not keep the oldest session")
	}
}
