package plugin

import (
	"context"
	"errors"
	"testing"
)

type namedPlugin struct{ name string }

func (p *namedPlugin) Name() string { return p.name }

type postedPlugin struct {
	namedPlugin
	calls int
	err   error
}

func (p *postedPlugin) OnTransactionPosted(ctx context.Context, txn interface{}) error {
	p.calls++
	return p.err
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&namedPlugin{name: "metrics"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&namedPlugin{name: "metrics"}); err == nil {
		t.Error("duplicate name accepted")
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
}

func TestGetAndList(t *testing.T) {
	r := NewRegistry()
	p := &namedPlugin{name: "audit"}
	if err := r.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	if got := r.Get("audit"); got != p {
		t.Errorf("Get = %v, want the registered plugin", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
	if got := r.List(); len(got) != 1 || got[0] != p {
		t.Errorf("List = %v, want the registered plugin", got)
	}
}

func TestEmitReachesOnlyImplementers(t *testing.T) {
	r := NewRegistry()
	hooked := &postedPlugin{namedPlugin: namedPlugin{name: "hooked"}}
	if err := r.Register(hooked); err != nil {
		t.Fatalf("register hooked: %v", err)
	}
	if err := r.Register(&namedPlugin{name: "plain"}); err != nil {
		t.Fatalf("register plain: %v", err)
	}

	r.EmitTransactionPosted(context.Background(), nil)
	r.EmitSessionReserved(context.Background(), nil)

	if hooked.calls != 1 {
		t.Errorf("posted hook called %d times, want 1", hooked.calls)
	}
}

func TestEmitSwallowsPluginErrors(t *testing.T) {
	r := NewRegistry()
	failing := &postedPlugin{namedPlugin: namedPlugin{name: "failing"}, err: errors.New("boom")}
	ok := &postedPlugin{namedPlugin: namedPlugin{name: "ok"}}
	if err := r.Register(failing); err != nil {
		t.Fatalf("register failing: %v", err)
	}
	if err := r.Register(ok); err != nil {
		t.Fatalf("register ok: %v", err)
	}

	// A failing plugin is logged, not fatal; later plugins still run.
	r.EmitTransactionPosted(context.Background(), nil)

	if failing.calls != 1 || ok.calls != 1 {
		t.Errorf("calls = %d/%d, want both plugins invoked", failing.calls, ok.calls)
	}
}
