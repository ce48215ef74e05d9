package store

import (
	"context"

	"github.com/Artem468/executor-balancer/pkg/typeregistry"
	"github.com/Artem468/executor-balancer/pkg/types"
)

// Snapshot implements typeregistry.SnapshotLoader: the key -> declared
// type map C1 casts every inbound Condition against (spec.md §4.1).
func (s *Store) Snapshot(ctx context.Context) (typeregistry.Snapshot, error) {
	const q = `SELECT name, type_of FROM key_data_types`

	var rows []types.KeyDataType
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, wrapDBErr("load key data type snapshot", err)
	}

	snapshot := make(typeregistry.Snapshot, len(rows))
	for _, r := range rows {
		snapshot[r.Name] = r.TypeOf
	}
	return snapshot, nil
}

// UpsertKeyDataType registers or updates a parameter key's declared
// type.
func (s *Store) UpsertKeyDataType(ctx context.Context, name, typeOf string) error {
	const q = `INSERT INTO key_data_types (name, type_of) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET type_of = EXCLUDED.type_of`

	if _, err := s.db.ExecContext(ctx, q, name, typeOf); err != nil {
		return wrapDBErr("upsert key data type", err)
	}
	return nil
}

// ListKeyDataTypes returns the full registry ordered by name.
func (s *Store) ListKeyDataTypes(ctx context.Context) ([]types.KeyDataType, error) {
	const q = `SELECT name, type_of FROM key_data_types ORDER BY name`

	var rows []types.KeyDataType
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, wrapDBErr("list key data types", err)
	}
	return rows, nil
}
