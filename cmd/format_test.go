package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dep-population/internal/source"
	"github.com/sells-group/dep-population/internal/store"
)

func TestFormatSources(t *testing.T) {
	var buf bytes.Buffer
	formatSources(&buf, []source.Location{
		{Code: "FJI", Kind: source.KindDirect, URL: "https://example.com/fji.zip", Member: "1_FJI_t_pop_ahs_2023.tif"},
		{Code: "TON", Kind: source.KindWorldPop, URL: "https://example.com/ton.tif"},
	})
	out := buf.String()
	assert.Contains(t, out, "CODE")
	assert.Contains(t, out, "1_FJI_t_pop_ahs_2023.tif")
	assert.Contains(t, out, "worldpop")
	assert.Contains(t, out, "https://example.com/ton.tif")
}

func TestFormatTaskList(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatTaskList(&buf, []store.Task{
		{
			ID:          "0123456789abcdef",
			TileID:      "[12,345]",
			Status:      store.TaskComplete,
			Territories: []string{"FJI", "TON"},
			CreatedAt:   created,
			UpdatedAt:   created.Add(95 * time.Second),
		},
		{
			ID:        "short",
			TileID:    "[1,1]",
			Status:    store.TaskFailed,
			Error:     "pipeline: territory FJI: source: download https://example.com/fji.zip: 503",
			CreatedAt: created,
			UpdatedAt: created,
		},
	})
	out := buf.String()
	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "[12,345]")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "2025-03-01 10:00")
	assert.Contains(t, out, "...")
}

func TestFormatStatusCounts(t *testing.T) {
	var buf bytes.Buffer
	formatStatusCounts(&buf, map[store.TaskStatus]int{store.TaskComplete: 3, store.TaskFailed: 1})
	out := buf.String()
	assert.Contains(t, out, "complete:")
	assert.Regexp(t, `total:\s+4`, out)
	assert.Regexp(t, `empty:\s+0`, out)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijk"))
	assert.Equal(t, "abc", truncateID("abc"))
}
