// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seqPtr(n int64) *int64 { return &n }

func TestIncomingWins(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	tests := []struct {
		name     string
		incoming *RowMeta
		stored   *RowState
		want     bool
	}{
		{
			name:     "greater sequence wins",
			incoming: &RowMeta{ServerSeq: seqPtr(7), UpdatedAt: t0},
			stored:   &RowState{ServerSeq: seqPtr(6), UpdatedAt: t1},
			want:     true,
		},
		{
			name:     "equal sequence wins, client edited the version it saw",
			incoming: &RowMeta{ServerSeq: seqPtr(6), UpdatedAt: t0},
			stored:   &RowState{ServerSeq: seqPtr(6), UpdatedAt: t1},
			want:     true,
		},
		{
			name:     "lower sequence loses regardless of wall clock",
			incoming: &RowMeta{ServerSeq: seqPtr(5), UpdatedAt: t1},
			stored:   &RowState{ServerSeq: seqPtr(6), UpdatedAt: t0},
			want:     false,
		},
		{
			name:     "no sequences, newer updated_at wins",
			incoming: &RowMeta{UpdatedAt: t1},
			stored:   &RowState{UpdatedAt: t0},
			want:     true,
		},
		{
			name:     "no sequences, equal updated_at wins",
			incoming: &RowMeta{UpdatedAt: t0},
			stored:   &RowState{UpdatedAt: t0},
			want:     true,
		},
		{
			name:     "no sequences, older updated_at loses",
			incoming: &RowMeta{UpdatedAt: t0},
			stored:   &RowState{UpdatedAt: t1},
			want:     false,
		},
		{
			name:     "sequence-less undelete never beats a sequenced tombstone",
			incoming: &RowMeta{UpdatedAt: t1.Add(time.Hour)},
			stored:   &RowState{ServerSeq: seqPtr(9), UpdatedAt: t0, Deleted: true},
			want:     false,
		},
		{
			name:     "sequence-less delete of a sequenced tombstone falls back to time",
			incoming: &RowMeta{UpdatedAt: t1, DeletedAt: &t1},
			stored:   &RowState{ServerSeq: seqPtr(9), UpdatedAt: t0, Deleted: true},
			want:     true,
		},
		{
			name:     "unsequenced tombstone can be undeleted by time",
			incoming: &RowMeta{UpdatedAt: t1},
			stored:   &RowState{UpdatedAt: t0, Deleted: true},
			want:     true,
		},
		{
			name:     "sequenced update may resurrect a sequenced tombstone",
			incoming: &RowMeta{ServerSeq: seqPtr(9), UpdatedAt: t0},
			stored:   &RowState{ServerSeq: seqPtr(9), UpdatedAt: t1, Deleted: true},
			want:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, incomingWins(tt.incoming, tt.stored))
		})
	}
}
