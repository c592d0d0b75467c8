package schema

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// RecordPtr constrains a type parameter to "pointer to a struct that
// implements Record", the way a generic load function needs to both
// allocate a zero R and call its pointer-receiver methods. Every load
// path in recresolver is written against this constraint instead of
// against a concrete record type.
type RecordPtr[R any] interface {
	*R
	Record
}

// EncodeRecord renders rec's full field set -- Header included -- to JSON
// with goccy/go-json. Re-encoding Header alongside the domain fields costs
// a few redundant bytes per record but keeps decoding trivial: Decode
// always has a complete struct to unmarshal into before it overwrites
// Header with the envelope's authoritative copy.
func EncodeRecord(rec Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("schema: encode %s: %w", rec.Variant(), err)
	}
	return raw, nil
}

// ToEnvelope builds the wire Envelope for rec. Callers (the writer) are
// expected to have already set rec's Header fields to their final,
// allocator-assigned values.
func ToEnvelope(rec Record) (*Envelope, error) {
	payload, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	h := rec.HeaderPtr()
	return &Envelope{
		ID:      h.ID,
		Key:     h.KeyString,
		DataSet: h.DataSet,
		Variant: rec.Variant(),
		Payload: payload,
	}, nil
}

// VariantMismatchError reports that an envelope's stored variant does not
// match the variant a caller asked to decode it as.
type VariantMismatchError struct {
	Wanted, Got string
}

func (e *VariantMismatchError) Error() string {
	return fmt.Sprintf("schema: variant mismatch: wanted %s, got %s", e.Wanted, e.Got)
}

// DecodeRecord unmarshals env's payload into a fresh R, checking that
// env.Variant matches the type's own Variant() before attempting to
// unmarshal. Header is then overwritten with the envelope's own id,
// key and dataSet, since those are authoritative and may legitimately
// differ from whatever the payload happened to carry (key, for
// instance, is round-tripped as a convenience, not re-derived from
// RecordKey on load).
func DecodeRecord[R any, P RecordPtr[R]](env *Envelope) (P, error) {
	var zero P
	var want string
	want = P(new(R)).Variant()
	if env.Variant != want {
		return zero, &VariantMismatchError{Wanted: want, Got: env.Variant}
	}
	rec := new(R)
	p := P(rec)
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, rec); err != nil {
			return zero, fmt.Errorf("schema: decode %s: %w", want, err)
		}
	}
	h := p.HeaderPtr()
	h.ID = env.ID
	h.DataSet = env.DataSet
	h.KeyString = env.Key
	return p, nil
}
