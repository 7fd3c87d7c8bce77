// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"time"

	"github.com/google/uuid"
)

// DroppedRows records rows of one table that failed intake validation.
// SampleIDs keeps at most validationSampleLimit offending identifiers.
type DroppedRows struct {
	TableName Table    `json:"table_name"`
	Count     int      `json:"count"`
	SampleIDs []string `json:"sample_ids,omitempty"`
}

// SkippedRows records rows one gate skipped under lenient handling, grouped
// by kind (conflict or dependency), table and the dependency name when
// applicable.
type SkippedRows struct {
	Kind       string `json:"kind"`
	TableName  Table  `json:"table_name"`
	Dependency string `json:"dependency,omitempty"`
	Count      int    `json:"count"`
}

// DiagnosticsSnapshot is the per-batch diagnostics record persisted for
// later inspection.
type DiagnosticsSnapshot struct {
	ID        string        `json:"id"`
	ClientID  string        `json:"client_id"`
	UserID    string        `json:"user_id"`
	CreatedAt time.Time     `json:"created_at"`
	Dropped   []DroppedRows `json:"dropped,omitempty"`
	Skipped   []SkippedRows `json:"skipped,omitempty"`
}

// newDiagnostics starts an empty snapshot for one batch.
func newDiagnostics(clientID, userID string) *DiagnosticsSnapshot {
	return &DiagnosticsSnapshot{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

func (d *DiagnosticsSnapshot) recordDrop(table Table, count int, sampleIDs []string) {
	if count == 0 {
		return
	}
	if len(sampleIDs) > validationSampleLimit {
		sampleIDs = sampleIDs[:validationSampleLimit]
	}
	d.Dropped = append(d.Dropped, DroppedRows{TableName: table, Count: count, SampleIDs: sampleIDs})
}

func (d *DiagnosticsSnapshot) recordSkip(kind string, table Table, dependency string, count int) {
	if count == 0 {
		return
	}
	for i := range d.Skipped {
		s := &d.Skipped[i]
		if s.Kind == kind && s.TableName == table && s.Dependency == dependency {
			s.Count += count
			return
		}
	}
	d.Skipped = append(d.Skipped, SkippedRows{Kind: kind, TableName: table, Dependency: dependency, Count: count})
}

// isEmpty reports whether the snapshot carries nothing worth persisting.
func (d *DiagnosticsSnapshot) isEmpty() bool {
	return len(d.Dropped) == 0 && len(d.Skipped) == 0
}
