// Package schema defines the record envelope and the two built-in record
// roots -- dataset and dataset-detail -- that the resolver and writer
// operate on. Domain record types are plain Go structs that embed Header
// and implement the Record interface.
package schema

import (
	"strings"

	"github.com/4degrees/datacentric-lib/tid"
)

// VariantDeleted is the reserved discriminator value marking a tombstone.
// A tombstone carries no payload; its presence hides any earlier
// non-tombstone version of the same key in datasets at or below it in the
// lookup order.
const VariantDeleted = "Deleted"

// Key is a record's logical identifier, independent of version. It must
// encode to a stable, order-independent string: the same logical key
// always encodes to the same string, and the encoding order is fixed by
// the key type's declared field order, not by call-site order.
type Key interface {
	// Fields returns the key's components in their declared order,
	// already rendered to their canonical string form.
	Fields() []string
}

// EncodeKey renders a Key to its canonical wire form: components joined
// by ";". A component containing ";" is rejected by the writer at
// BadInput time (see writer.SaveMany), not escaped here, so the encoding
// stays trivially invertible for the common case and the store never
// has to guess at an escaping scheme it didn't define.
func EncodeKey(k Key) string {
	return strings.Join(k.Fields(), ";")
}

// SimpleKey is a Key made of a fixed, already-ordered list of strings; it
// covers the common case (dataset names, dataset-detail ids) without
// requiring a dedicated type per record root.
type SimpleKey []string

func (k SimpleKey) Fields() []string { return k }

// Header is embedded by every domain record type. It carries the three
// fields every stored object has: id, the dataset it was
// written into, and enough of the logical key to reconstruct it (domain
// types store their own key fields and implement RecordKey to build the
// canonical Key from them; Header.KeyString is the resolver's cached
// encoded form of that key, set by the writer and resolver alike so a
// record round-tripped from storage carries the same string it was
// looked up by).
type Header struct {
	ID        tid.TID
	DataSet   tid.TID
	KeyString string
}

// HeaderOf is implemented (via embedding Header) by every record root.
type HeaderOf interface {
	HeaderPtr() *Header
}

func (h *Header) HeaderPtr() *Header { return h }

// Record is the full contract a domain record type must satisfy. Root and
// Variant are static per Go type (they do not vary per instance), which is
// why they are ordinary methods rather than fields: every *T for a given T
// returns the same two strings.
type Record interface {
	HeaderOf
	// Root is the record root's collection name, and the backend
	// collection the value lives in once written.
	Root() string
	// Variant is this record's type-tag; it is compared against the
	// envelope's stored Variant at load time to catch a caller asking for
	// the wrong subtype under a shared key space.
	Variant() string
	// RecordKey returns the logical key for this particular instance.
	RecordKey() Key
}

// Initializable is implemented by record types with setup to run once the
// writer has assigned ID/DataSet, mirroring the convention of "invoke the
// record's init hook" step. Optional: most record types don't need it.
type Initializable interface {
	Init()
}

// Envelope is the physical shape every record takes in a backend
// collection: Header's three fields, plus a discriminator and an opaque
// payload. Tombstones carry only the discriminator (VariantDeleted) and an
// empty payload.
type Envelope struct {
	ID        tid.TID `json:"id"`
	Key       string  `json:"key"`
	DataSet   tid.TID `json:"dataSet"`
	Variant   string  `json:"variant"`
	Payload   []byte  `json:"payload,omitempty"`
}

// IsTombstone reports whether this envelope is a deletion marker.
func (e *Envelope) IsTombstone() bool { return e.Variant == VariantDeleted }

// DataSet is the record root for dataset records ("Dataset
// record"). Its own TID is the dataset's identity; Header.DataSet holds
// the *parent* dataset's TID (Empty for root datasets), and Header.ID is
// set by the writer to the dataset's own TID at creation.
type DataSet struct {
	Header
	Name        string
	Imports     []tid.TID
	NonTemporal bool
}

func (d *DataSet) Root() string      { return "DataSet" }
func (d *DataSet) Variant() string   { return "DataSet" }
func (d *DataSet) RecordKey() Key    { return SimpleKey{d.Name} }

// DataSetDetail is the mutable side record for per-dataset overrides
// ("Dataset-detail record"). It is keyed by the TID of the
// dataset it describes and stored in that dataset's *parent* -- see
// Header.DataSet, which the writer sets to the described dataset's parent,
// never to the described dataset itself.
type DataSetDetail struct {
	Header
	DescribedDataSet  tid.TID
	ReadOnly          *bool
	CutoffTime        *tid.TID
	ImportsCutoffTime *tid.TID
}

func (d *DataSetDetail) Root() string    { return "DataSetDetail" }
func (d *DataSetDetail) Variant() string { return "DataSetDetail" }
func (d *DataSetDetail) RecordKey() Key  { return SimpleKey{d.DescribedDataSet.String()} }

// IsReadOnly reports the detail's read-only override, defaulting to false
// when unset.
func (d *DataSetDetail) IsReadOnly() bool { return d.ReadOnly != nil && *d.ReadOnly }
