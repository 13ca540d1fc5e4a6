package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed keys.
// Version suffix enables future algorithm migration.
const (
	DomainQuery = "recbind/query/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + data.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryKey computes a stable key for a fetch request against a collection.
// Two requests with the same collection, query document and group-by fields
// always produce the same key, regardless of map iteration order.
func QueryKey(collection string, query IRObject, groupBy []string) (string, error) {
	obj := IRObject{
		"collection": IRString(collection),
		"query":      query,
	}
	if len(groupBy) > 0 {
		fields := make(IRArray, len(groupBy))
		for i, f := range groupBy {
			fields[i] = IRString(f)
		}
		obj["group_by"] = fields
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("QueryKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}
