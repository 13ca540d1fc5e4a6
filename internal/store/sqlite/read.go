package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// Find returns a live record by id, or store.ErrNotFound.
func (a *Adapter) Find(ctx context.Context, collection, id string) (ir.IRObject, error) {
	var data string
	err := a.db.QueryRowContext(ctx, `
		SELECT data FROM records
		WHERE collection = ? AND id = ? AND deleted = 0
	`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return unmarshalRecord(data)
}

// FindAll returns live records matching q ordered by seq, id. With groupBy it
// returns one row per distinct combination of the fields plus "count",
// computed in SQL when the query can be fully pushed down and in Go
// otherwise.
//
// Returns an empty slice (not nil) when nothing matches.
func (a *Adapter) FindAll(ctx context.Context, collection string, q store.Query, groupBy []string) ([]ir.IRObject, error) {
	c := compiler{collection: collection}

	if len(groupBy) > 0 {
		cq, err := c.compileGroupBy(q, groupBy)
		if err == nil && cq.exact {
			groups, err := a.readGroups(ctx, cq, groupBy)
			if err != nil {
				return nil, fmt.Errorf("findAll %s: %w", collection, err)
			}
			return groups, nil
		}
	}

	rows, err := a.readRows(ctx, c.compileSelect(q), q)
	if err != nil {
		return nil, fmt.Errorf("findAll %s: %w", collection, err)
	}
	if len(groupBy) > 0 {
		return store.GroupRows(rows, groupBy), nil
	}
	return rows, nil
}

func (a *Adapter) readRows(ctx context.Context, cq compiledQuery, q store.Query) ([]ir.IRObject, error) {
	var matcher *store.Matcher
	if !cq.exact {
		m, err := store.CompileQuery(q)
		if err != nil {
			return nil, err
		}
		matcher = m
	}

	rows, err := a.db.QueryContext(ctx, cq.sql, cq.params...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []ir.IRObject{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		if matcher != nil {
			ok, err := matcher.Match(rec)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (a *Adapter) readGroups(ctx context.Context, cq compiledQuery, fields []string) ([]ir.IRObject, error) {
	rows, err := a.db.QueryContext(ctx, cq.sql, cq.params...)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	type keyed struct {
		key string
		row ir.IRObject
	}
	var groups []keyed

	for rows.Next() {
		types := make([]string, len(fields))
		raws := make([]any, len(fields))
		dest := make([]any, 0, 2*len(fields)+1)
		for i := range fields {
			dest = append(dest, &types[i], &raws[i])
		}
		var count int64
		dest = append(dest, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}

		row := make(ir.IRObject, len(fields)+1)
		values := make(ir.IRArray, len(fields))
		for i, f := range fields {
			v, err := groupValue(types[i], raws[i])
			if err != nil {
				return nil, err
			}
			row[f] = v
			values[i] = v
		}
		row["count"] = ir.IRInt(count)

		key, err := ir.MarshalCanonical(values)
		if err != nil {
			return nil, err
		}
		groups = append(groups, keyed{key: string(key), row: row})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	// Same order as store.GroupRows so both paths agree.
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
	out := make([]ir.IRObject, len(groups))
	for i, g := range groups {
		out[i] = g.row
	}
	return out, nil
}
