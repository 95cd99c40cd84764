package nostr

import "encoding/json"

// Filter describes a relay subscription filter. Tag filters are keyed by
// bare label ("s", "d") and serialised with the "#" prefix the protocol
// expects.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Since   int64
	Until   int64
	Limit   int
	Tags    map[string][]string
}

// MarshalJSON emits the NIP-01 filter object, omitting unset fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any)
	if len(f.IDs) > 0 {
		obj["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		obj["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		obj["authors"] = f.Authors
	}
	if f.Since > 0 {
		obj["since"] = f.Since
	}
	if f.Until > 0 {
		obj["until"] = f.Until
	}
	if f.Limit > 0 {
		obj["limit"] = f.Limit
	}
	for label, values := range f.Tags {
		if len(values) > 0 {
			obj["#"+label] = values
		}
	}
	return json.Marshal(obj)
}
