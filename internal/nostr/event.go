package nostr

// Event is one signed broadcast record as delivered by a relay. Events are
// never mutated after receipt; the signature is carried opaquely.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first tag with the given label, or nil.
func (e Event) Tag(label string) []string {
	for _, tag := range e.Tags {
		if len(tag) > 0 && tag[0] == label {
			return tag
		}
	}
	return nil
}

// TagValue returns the first value of the first tag with the given label.
// The second return reports whether the tag carried a value at all.
func (e Event) TagValue(label string) (string, bool) {
	tag := e.Tag(label)
	if len(tag) < 2 {
		return "", false
	}
	return tag[1], true
}

// TagValues returns every value (everything past the label) of all tags
// with the given label.
func (e Event) TagValues(label string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) > 1 && tag[0] == label {
			values = append(values, tag[1:]...)
		}
	}
	return values
}
