package transaction

import (
	"encoding/json"
	"fmt"
)

// Detail is operation-specific context attached to a transaction.
//
// It is a closed union of known shapes plus OpaqueDetail as a
// forward-compatibility escape hatch, so that consumers can type-switch
// exhaustively over the known kinds instead of digging through an untyped
// map.
type Detail interface {
	DetailKind() string
}

// CampaignSendDetail records a campaign send that consumed credits.
type CampaignSendDetail struct {
	CampaignID string `json:"campaign_id"`
	Channel    string `json:"channel"`
	Recipients int64  `json:"recipients"`
}

// DetailKind implements Detail.
func (CampaignSendDetail) DetailKind() string { return "campaign_send" }

// LeadConversionDetail records a lead-to-contact conversion.
type LeadConversionDetail struct {
	LeadID    string `json:"lead_id"`
	ContactID string `json:"contact_id,omitempty"`
}

// DetailKind implements Detail.
func (LeadConversionDetail) DetailKind() string { return "lead_conversion" }

// EnrichmentDetail records a data-enrichment run.
type EnrichmentDetail struct {
	Provider string `json:"provider"`
	Fields   int    `json:"fields"`
}

// DetailKind implements Detail.
func (EnrichmentDetail) DetailKind() string { return "enrichment" }

// SettlementDetail links a usage transaction back to the reservation
// session it settled.
type SettlementDetail struct {
	SessionID     string `json:"session_id"`
	OperationType string `json:"operation_type"`
}

// DetailKind implements Detail.
func (SettlementDetail) DetailKind() string { return "settlement" }

// GrantDetail records a billing-period credit grant.
type GrantDetail struct {
	Period string `json:"period"`
	Base   int64  `json:"base"`
	AddOn  int64  `json:"addon"`
}

// DetailKind implements Detail.
func (GrantDetail) DetailKind() string { return "grant" }

// ExpiryDetail records credits removed when a period closed or a rollover
// reached end of life.
type ExpiryDetail struct {
	Period   string `json:"period"`
	Rollover string `json:"rollover_id,omitempty"`
}

// DetailKind implements Detail.
func (ExpiryDetail) DetailKind() string { return "expiry" }

// ReversalDetail records why a transaction was reversed.
type ReversalDetail struct {
	Reason string `json:"reason"`
}

// DetailKind implements Detail.
func (ReversalDetail) DetailKind() string { return "reversal" }

// OpaqueDetail carries a detail shape this version of the library does not
// know about. The raw bytes round-trip unchanged.
type OpaqueDetail struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// DetailKind implements Detail.
func (o OpaqueDetail) DetailKind() string { return o.Kind }

// detailEnvelope is the stored wire form: {"kind": ..., "data": {...}}.
type detailEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalDetail encodes a Detail into its envelope form. A nil detail
// encodes to nil.
func MarshalDetail(d Detail) ([]byte, error) {
	if d == nil {
		return nil, nil
	}

	var data []byte
	var err error
	if o, ok := d.(OpaqueDetail); ok {
		data = o.Data
	} else {
		data, err = json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("transaction: marshal detail %q: %w", d.DetailKind(), err)
		}
	}

	return json.Marshal(detailEnvelope{Kind: d.DetailKind(), Data: data})
}

// UnmarshalDetail decodes an envelope produced by MarshalDetail. Unknown
// kinds decode to OpaqueDetail so newer producers never break older readers.
func UnmarshalDetail(raw []byte) (Detail, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var env detailEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("transaction: unmarshal detail envelope: %w", err)
	}

	var d Detail
	switch env.Kind {
	case "campaign_send":
		d = &CampaignSendDetail{}
	case "lead_conversion":
		d = &LeadConversionDetail{}
	case "enrichment":
		d = &EnrichmentDetail{}
	case "settlement":
		d = &SettlementDetail{}
	case "grant":
		d = &GrantDetail{}
	case "expiry":
		d = &ExpiryDetail{}
	case "reversal":
		d = &ReversalDetail{}
	default:
		return OpaqueDetail{Kind: env.Kind, Data: env.Data}, nil
	}

	if err := json.Unmarshal(env.Data, d); err != nil {
		return nil, fmt.Errorf("transaction: unmarshal %q detail: %w", env.Kind, err)
	}

	// Return the concrete value, not the pointer, so type switches on the
	// value types used at post time keep working.
	switch v := d.(type) {
	case *CampaignSendDetail:
		return *v, nil
	case *LeadConversionDetail:
		return *v, nil
	case *EnrichmentDetail:
		return *v, nil
	case *SettlementDetail:
		return *v, nil
	case *GrantDetail:
		return *v, nil
	case *ExpiryDetail:
		return *v, nil
	case *ReversalDetail:
		return *v, nil
	default:
		return d, nil
	}
}
