package book

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/nostr"
)

// AdmissionPolicy decides whether an incoming record may enter the live
// book. Policies gate additions only; supersession of an already-live
// order is always honoured regardless of policy.
type AdmissionPolicy interface {
	Admit(ev nostr.Event) bool
}

// OpenPolicy admits every record.
type OpenPolicy struct{}

func (OpenPolicy) Admit(nostr.Event) bool { return true }

// AllowListPolicy admits records from an explicit publisher allow-list,
// with an escape hatch for records declaring a trusted source tag.
type AllowListPolicy struct {
	pubkeys map[string]struct{}
	sources map[string]struct{}
}

// NewAllowListPolicy builds an allow-list policy from publisher keys and
// trusted source labels.
func NewAllowListPolicy(pubkeys, trustedSources []string) AllowListPolicy {
	policy := AllowListPolicy{
		pubkeys: make(map[string]struct{}, len(pubkeys)),
		sources: make(map[string]struct{}, len(trustedSources)),
	}
	for _, pk := range pubkeys {
		policy.pubkeys[strings.ToLower(pk)] = struct{}{}
	}
	for _, source := range trustedSources {
		policy.sources[strings.ToLower(source)] = struct{}{}
	}
	return policy
}

func (p AllowListPolicy) Admit(ev nostr.Event) bool {
	if _, ok := p.pubkeys[strings.ToLower(ev.PubKey)]; ok {
		return true
	}
	if source, present := ev.TagValue("y"); present {
		if _, ok := p.sources[strings.ToLower(source)]; ok {
			return true
		}
	}
	return false
}

// PremiumBoundPolicy admits records whose declared premium magnitude is
// within the bound. A missing premium counts as zero; an unparseable one
// is rejected outright.
type PremiumBoundPolicy struct {
	MaxAbsPct decimal.Decimal
}

func (p PremiumBoundPolicy) Admit(ev nostr.Event) bool {
	raw, present := ev.TagValue("premium")
	if !present {
		return true
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return v.Abs().LessThanOrEqual(p.MaxAbsPct)
}

// NewPolicy builds the configured admission policy variant.
func NewPolicy(mode string, pubkeys, trustedSources []string, maxAbsPct decimal.Decimal) (AdmissionPolicy, error) {
	switch mode {
	case "", "open":
		return OpenPolicy{}, nil
	case "allowlist":
		return NewAllowListPolicy(pubkeys, trustedSources), nil
	case "premium-bound":
		if !maxAbsPct.IsPositive() {
			return nil, fmt.Errorf("book: premium bound must be positive, got %s", maxAbsPct)
		}
		return PremiumBoundPolicy{MaxAbsPct: maxAbsPct}, nil
	default:
		return nil, fmt.Errorf("book: unknown admission mode %q", mode)
	}
}
