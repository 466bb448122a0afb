package transaction

import (
	"encoding/json"
	"testing"
)

func TestDetailRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		detail Detail
	}{
		{"campaign send", CampaignSendDetail{CampaignID: "cmp-1", Channel: "email", Recipients: 250}},
		{"lead conversion", LeadConversionDetail{LeadID: "lead-9", ContactID: "ct-4"}},
		{"enrichment", EnrichmentDetail{Provider: "clearbit", Fields: 12}},
		{"settlement", SettlementDetail{SessionID: "ses_abc", OperationType: "campaign_send"}},
		{"grant", GrantDetail{Period: "2026-08", Base: 100, AddOn: 25}},
		{"expiry", ExpiryDetail{Period: "2026-08", Rollover: "roll_abc"}},
		{"reversal", ReversalDetail{Reason: "operator correction"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := MarshalDetail(tt.detail)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			got, err := UnmarshalDetail(raw)
			if err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			if got.DetailKind() != tt.detail.DetailKind() {
				t.Errorf("kind: got %q, want %q", got.DetailKind(), tt.detail.DetailKind())
			}
			if got != tt.detail {
				t.Errorf("round-trip mismatch: got %#v, want %#v", got, tt.detail)
			}
		})
	}
}

func TestDetailNil(t *testing.T) {
	raw, err := MarshalDetail(nil)
	if err != nil {
		t.Fatalf("marshal nil failed: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil bytes for nil detail, got %q", raw)
	}

	got, err := UnmarshalDetail(nil)
	if err != nil {
		t.Fatalf("unmarshal nil failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil detail, got %#v", got)
	}
}

func TestDetailUnknownKindSurvives(t *testing.T) {
	raw := []byte(`{"kind":"future_thing","data":{"x":1}}`)

	got, err := UnmarshalDetail(raw)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	opaque, ok := got.(OpaqueDetail)
	if !ok {
		t.Fatalf("expected OpaqueDetail, got %T", got)
	}
	if opaque.Kind != "future_thing" {
		t.Errorf("kind: got %q, want future_thing", opaque.Kind)
	}

	// Re-encode and verify the payload survives unchanged.
	again, err := MarshalDetail(opaque)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}

	var env struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(again, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if string(env.Data) != `{"x":1}` {
		t.Errorf("payload changed: got %s", env.Data)
	}
}

func TestKindDirection(t *testing.T) {
	tests := []struct {
		kind Kind
		dir  int
	}{
		{KindPurchase, 1},
		{KindBonus, 1},
		{KindRefund, 1},
		{KindUsage, -1},
		{KindAdjustment, 0},
		{KindReversal, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Direction(); got != tt.dir {
				t.Errorf("Direction: got %d, want %d", got, tt.dir)
			}
		})
	}
}
