package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/credits"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// fakeCounter and fakeHistogram record calls in process.
type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ observed []float64 }

func (h *fakeHistogram) Observe(v float64) { h.observed = append(h.observed, v) }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	if c, ok := f.counters[name]; ok {
		return c
	}
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestMetricsFollowEngineLifecycle(t *testing.T) {
	factory := newFakeFactory()
	ext := observability.NewMetricsExtension(factory)

	e := credits.New(memory.New(), credits.WithPlugin(ext))
	ctx := context.Background()

	if _, err := e.Post(ctx, credits.PostRequest{
		TenantID: "t1", Type: types.CreditLead, Amount: 100,
		Kind: transaction.KindPurchase, IdempotencyKey: "p1",
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	sess, err := e.Reserve(ctx, "t1", "op", types.Lead(10), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := e.Commit(ctx, sess.ID, types.Lead(8)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	checks := map[string]float64{
		"credits.transactions.posted":  2, // grant + settlement
		"credits.transactions.usage":   1,
		"credits.sessions.reserved":    1,
		"credits.sessions.committed":   1,
		"credits.sessions.rolled_back": 0,
	}
	for name, want := range checks {
		c, ok := factory.counters[name]
		if !ok {
			if want != 0 {
				t.Errorf("counter %s never created", name)
			}
			continue
		}
		if c.n != want {
			t.Errorf("counter %s = %v, want %v", name, c.n, want)
		}
	}

	spent := factory.histograms["credits.spent"]
	if spent == nil || len(spent.observed) != 1 || spent.observed[0] != 8 {
		t.Errorf("credits.spent observations = %+v, want [8]", spent)
	}
	hold := factory.histograms["credits.sessions.hold_size"]
	if hold == nil || len(hold.observed) != 1 || hold.observed[0] != 10 {
		t.Errorf("hold size observations = %+v, want [10]", hold)
	}
}

func TestPrometheusFactoryNormalizesAndCaches(t *testing.T) {
	reg := prometheus.NewRegistry()
	factory := observability.NewPrometheusFactory(reg)

	c := factory.Counter("credits.test.events")
	c.Inc()
	c.Inc()

	// Same name returns the same underlying collector.
	factory.Counter("credits.test.events").Inc()

	promCounter, ok := c.(prometheus.Counter)
	if !ok {
		t.Fatal("factory counter is not a prometheus.Counter")
	}
	if got := testutil.ToFloat64(promCounter); got != 3 {
		t.Errorf("counter value = %v, want 3", got)
	}

	// Histograms register without panicking and accept observations.
	factory.Histogram("credits.test.size").Observe(4)
	if n := testutil.CollectAndCount(reg); n != 2 {
		t.Errorf("registry holds %d collectors, want 2", n)
	}
}
