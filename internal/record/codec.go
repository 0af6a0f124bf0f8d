package record

import "encoding/json"

// wireRecord is the flat JSON shape every client-facing channel speaks:
// a single line terminated by newline, keys id/type/from/to/timestamp/
// body/priority. `to` marshals to the literal token `null` when absent
// because To is a *string; encoding/json gives us that for free.
type wireRecord struct {
	ID        string   `json:"id,omitempty"`
	Type      string   `json:"type"`
	From      string   `json:"from"`
	To        *string  `json:"to"`
	Timestamp int64    `json:"timestamp,omitempty"`
	Body      string   `json:"body"`
	Priority  *int     `json:"priority,omitempty"`
}

// ToWire serializes r to a single JSON line. An ERROR record (see
// NewError) is written with only its type and body keys. The caller is
// responsible for appending the newline terminator when writing to a
// stream.
func (r Record) ToWire() ([]byte, error) {
	if r.Kind == "ERROR" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Body string `json:"body"`
		}{Type: string(r.Kind), Body: r.Body})
	}
	p := int(r.Priority)
	w := wireRecord{
		ID:        r.ID,
		Type:      string(r.Kind),
		From:      r.From,
		To:        r.To,
		Timestamp: r.CreatedAt,
		Body:      r.Body,
		Priority:  &p,
	}
	return json.Marshal(w)
}

// FromWire parses a single wire line into a Record. Parsing is tolerant:
// type, from, and body are required — if any is absent the line is
// considered unparseable and (Record{}, false) is returned so the caller
// can discard it and keep reading. Missing id/timestamp/priority are
// filled with server-assigned defaults (fresh id, current time, NORMAL).
// Unknown fields are ignored. `to == "null"` (the JSON null literal)
// becomes an absent recipient.
func FromWire(line []byte) (Record, bool) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, false
	}
	if w.Type == "" || w.From == "" {
		return Record{}, false
	}
	// body is required as a key; an explicit empty string is accepted.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(line, &keys); err != nil {
		return Record{}, false
	}
	if _, ok := keys["body"]; !ok {
		return Record{}, false
	}

	r := Record{
		ID:   w.ID,
		Kind: Kind(w.Type),
		From: w.From,
		To:   w.To,
		Body: w.Body,
	}
	if r.ID == "" {
		r.ID = freshID()
	}
	if w.Timestamp == 0 {
		r.CreatedAt = nowMillis()
	} else {
		r.CreatedAt = w.Timestamp
	}
	if w.Priority == nil {
		r.Priority = PriorityNormal
	} else {
		r.Priority = Priority(*w.Priority)
	}
	return r, true
}

// NewError builds a single textual error record of the shape clients
// expect on rejection: {"type":"ERROR","body":"<reason>"}.
func NewError(reason string) Record {
	return Record{
		Kind: "ERROR",
		Body: reason,
	}
}
