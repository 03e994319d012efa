package test_seeder

import (
	"context"

	"axoncore/src/domain"
)

func (ts TestSeeder) CountEntities(ctx context.Context, entityType domain.EntityType) (int, error) {
	var count int
	err := ts.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM axonius_entities WHERE entity_type = $1`,
		string(entityType),
	).Scan(&count)
	return count, err
}

// SelectEntityIDs devolve os internal_axon_id do tipo, em ordem.
func (ts TestSeeder) SelectEntityIDs(ctx context.Context, entityType domain.EntityType) ([]string, error) {
	rows, err := ts.pool.Query(ctx,
		`SELECT internal_axon_id FROM axonius_entities WHERE entity_type = $1 ORDER BY internal_axon_id`,
		string(entityType),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
