// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"fmt"
	"log/slog"
)

// Identity remapping resolves cross-client identifier collisions for tables
// whose business-unique key is distinct from the primary identifier.
// Independent offline clients generate different random ids for what is
// semantically the same reference row (a category named "Bulk" created on
// two laptops); without the remap the unique-key constraint would reject
// the whole batch.

// remapResult carries the id rewrites later stages must propagate.
type remapResult struct {
	// EntityTypes: incoming id -> canonical server id.
	entityTypes map[string]string
	// AttributeDefs: incoming id -> canonical server id.
	attributeDefs map[string]string
}

func (r *remapResult) entityTypeID(id string) string {
	if canonical, ok := r.entityTypes[id]; ok {
		return canonical
	}
	return id
}

func (r *remapResult) attributeDefID(id string) string {
	if canonical, ok := r.attributeDefs[id]; ok {
		return canonical
	}
	return id
}

// remapIdentities rewrites incoming EntityType and AttributeDef identifiers
// to existing server identifiers sharing the same business key, then
// propagates the rewrite to dependent rows and deduplicates each table by
// final identifier, keeping the newest version.
func remapIdentities(ctx context.Context, tx Tx, logger *slog.Logger, batch *intakeBatch) (*remapResult, error) {
	result := &remapResult{
		entityTypes:   make(map[string]string),
		attributeDefs: make(map[string]string),
	}

	// EntityTypes remap by globally-unique code.
	types := batch.rows(TableEntityTypes)
	if len(types) > 0 {
		codes := make([]string, 0, len(types))
		for _, row := range types {
			codes = append(codes, row.(*EntityType).Code)
		}
		existing, err := tx.EntityTypesByCode(ctx, codes)
		if err != nil {
			return nil, fmt.Errorf("remap entity types: %w", err)
		}
		byCode := make(map[string]string, len(existing))
		for _, et := range existing {
			byCode[et.Code] = et.ID
		}
		for _, row := range types {
			et := row.(*EntityType)
			if canonical, ok := byCode[et.Code]; ok && canonical != et.ID {
				result.entityTypes[et.ID] = canonical
				logger.Debug("Remapped entity type id",
					"code", et.Code, "incoming_id", et.ID, "canonical_id", canonical)
				et.ID = canonical
			}
		}
	}

	// Entity.entity_type_id follows the EntityType remap.
	for _, row := range batch.rows(TableEntities) {
		e := row.(*Entity)
		e.EntityTypeID = result.entityTypeID(e.EntityTypeID)
	}

	// AttributeDefs remap by (entity_type_id, code), after their type ids
	// were rewritten so keys compare against canonical identifiers.
	defs := batch.rows(TableAttributeDefs)
	if len(defs) > 0 {
		keys := make([]AttributeDefKey, 0, len(defs))
		for _, row := range defs {
			def := row.(*AttributeDef)
			def.EntityTypeID = result.entityTypeID(def.EntityTypeID)
			keys = append(keys, AttributeDefKey{EntityTypeID: def.EntityTypeID, Code: def.Code})
		}
		existing, err := tx.AttributeDefsByKey(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("remap attribute defs: %w", err)
		}
		byKey := make(map[AttributeDefKey]string, len(existing))
		for _, def := range existing {
			byKey[AttributeDefKey{EntityTypeID: def.EntityTypeID, Code: def.Code}] = def.ID
		}
		for _, row := range defs {
			def := row.(*AttributeDef)
			key := AttributeDefKey{EntityTypeID: def.EntityTypeID, Code: def.Code}
			if canonical, ok := byKey[key]; ok && canonical != def.ID {
				result.attributeDefs[def.ID] = canonical
				logger.Debug("Remapped attribute def id",
					"entity_type_id", def.EntityTypeID, "code", def.Code,
					"incoming_id", def.ID, "canonical_id", canonical)
				def.ID = canonical
			}
		}
	}

	// AttributeValue.attribute_def_id follows the AttributeDef remap.
	for _, row := range batch.rows(TableAttributeValues) {
		av := row.(*AttributeValue)
		av.AttributeDefID = result.attributeDefID(av.AttributeDefID)
	}

	// After remapping, rows sharing one final identifier collapse to the
	// version with the greatest updated_at.
	for _, table := range TableOrder {
		batch.setRows(table, dedupeByID(batch.rows(table)))
	}

	return result, nil
}

// dedupeByID keeps the newest row per identifier, preserving first-seen
// order of the survivors.
func dedupeByID(rows []Row) []Row {
	if len(rows) < 2 {
		return rows
	}
	best := make(map[string]Row, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		id := row.Meta().ID
		prev, seen := best[id]
		if !seen {
			best[id] = row
			order = append(order, id)
			continue
		}
		if rowNewerThan(row, prev) {
			best[id] = row
		}
	}
	if len(order) == len(rows) {
		return rows
	}
	out := make([]Row, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}
