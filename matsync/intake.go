// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
	"log/slog"
)

// intakeBatch is the result of decoding and schema-validating one push
// request: well-formed candidate rows grouped per table, in TableOrder.
type intakeBatch struct {
	groups map[Table][]Row
}

func (b *intakeBatch) rows(table Table) []Row { return b.groups[table] }

func (b *intakeBatch) setRows(table Table, rows []Row) { b.groups[table] = rows }

func (b *intakeBatch) isEmpty() bool {
	for _, rows := range b.groups {
		if len(rows) > 0 {
			return false
		}
	}
	return true
}

// intake validates every pushed row against its table's expected shape.
// Rows failing validation are dropped and counted with a bounded sample of
// offending identifiers; intake itself never fails the batch.
func intake(logger *slog.Logger, req *PushRequest, diag *DiagnosticsSnapshot) *intakeBatch {
	batch := &intakeBatch{groups: make(map[Table][]Row, len(TableOrder))}

	for _, group := range req.Upserts {
		if !IsSyncTable(group.Table) {
			logger.Warn("Dropping rows for unknown table",
				"table", group.Table, "rows", len(group.Rows), "client_id", req.ClientID)
			diag.recordDrop(group.Table, len(group.Rows), rawRowIDs(group.Rows))
			continue
		}

		var dropped int
		var sample []string
		for _, raw := range group.Rows {
			row, err := DecodeRow(group.Table, raw)
			if err != nil {
				dropped++
				if len(sample) < validationSampleLimit {
					if id := rawRowID(raw); id != "" {
						sample = append(sample, id)
					}
				}
				logger.Debug("Row failed validation",
					"table", group.Table, "error", err, "client_id", req.ClientID)
				continue
			}
			batch.groups[group.Table] = append(batch.groups[group.Table], row)
		}

		if dropped > 0 {
			logger.Warn("Dropped invalid rows",
				"table", group.Table, "dropped", dropped,
				"sample_ids", sample, "client_id", req.ClientID)
			diag.recordDrop(group.Table, dropped, sample)
		}
	}

	return batch
}

// rawRowID best-effort extracts the id of a raw row for diagnostics.
func rawRowID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

func rawRowIDs(rows []json.RawMessage) []string {
	var ids []string
	for _, raw := range rows {
		if len(ids) == validationSampleLimit {
			break
		}
		if id := rawRowID(raw); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
