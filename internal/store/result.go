package store

import "github.com/roach88/recbind/internal/ir"

// ResultSet is an immutable snapshot of query results.
//
// It has no mutators, and every accessor returns copies, so a view handed to
// a component cannot be used to change the cache or other views.
type ResultSet struct {
	records []ir.IRObject
}

// NewResultSet snapshots recs.
func NewResultSet(recs []ir.IRObject) ResultSet {
	owned := make([]ir.IRObject, len(recs))
	for i, rec := range recs {
		owned[i] = rec.Clone()
	}
	return ResultSet{records: owned}
}

// Len returns the number of records.
func (r ResultSet) Len() int {
	return len(r.records)
}

// At returns a copy of the i-th record. Panics when out of range, like a slice.
func (r ResultSet) At(i int) ir.IRObject {
	return r.records[i].Clone()
}

// Records returns copies of all records.
func (r ResultSet) Records() []ir.IRObject {
	out := make([]ir.IRObject, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Field returns the values of key across all records, in order. Missing keys
// yield nil entries.
func (r ResultSet) Field(key string) []ir.IRValue {
	out := make([]ir.IRValue, len(r.records))
	for i, rec := range r.records {
		out[i] = ir.CloneValue(rec[key])
	}
	return out
}
