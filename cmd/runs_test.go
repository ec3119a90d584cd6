package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/eci-tracker/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Kind:      model.RunKindBatch,
			Status:    model.RunStatusComplete,
			Stats:     &model.RunStats{Cases: 12, Failed: 1, Warnings: 3},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Kind:      model.RunKindReconcile,
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "KIND")
	assert.Contains(t, output, "WARNINGS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "batch")
	assert.Contains(t, output, "reconcile")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "12")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{Status: model.RunStatusComplete, CreatedAt: now, UpdatedAt: now.Add(10 * time.Second),
			Stats: &model.RunStats{Cases: 10, Failed: 2, Warnings: 4}},
		{Status: model.RunStatusComplete, CreatedAt: now, UpdatedAt: now.Add(20 * time.Second),
			Stats: &model.RunStats{Cases: 5, Warnings: 1}},
		{Status: model.RunStatusFailed, CreatedAt: now, UpdatedAt: now},
		{Status: model.RunStatusQueued, CreatedAt: now, UpdatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Other)
	assert.Equal(t, 15, s.Cases)
	assert.Equal(t, 2, s.FailedCases)
	assert.Equal(t, 5, s.Warnings)
	assert.InDelta(t, 15.0, s.AvgDurSecs, 0.001)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, runStats{}, s)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 3, Complete: 2, Failed: 1, Cases: 20, Warnings: 4, AvgDurSecs: 12.5})
	out := buf.String()
	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "Cases processed:")
	assert.Contains(t, out, "12.5s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
