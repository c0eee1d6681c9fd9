// File: internal/store/journal_test.go
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
)

func openTestJournal(t *testing.T, maxEntries int) *Journal {
	t.Helper()
	j, err := Open(config.JournalConfig{
		Enabled:    true,
		Path:       filepath.Join(t.TempDir(), "journal.db"),
		MaxEntries: maxEntries,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func journalSnapshot(app string, elementCount int) *schemas.ContextSnapshot {
	elements := make([]schemas.DetectedElement, elementCount)
	for i := range elements {
		elements[i] = schemas.DetectedElement{
			Text: fmt.Sprintf("item %d", i), Type: schemas.ElementText, Confidence: 0.9,
		}
	}
	return &schemas.ContextSnapshot{
		Timestamp:         time.Now(),
		ScreenResolution:  schemas.Point{X: 1920, Y: 1080},
		ActiveApplication: app,
		Elements:          elements,
	}
}

func TestRecordAndHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openTestJournal(t, 0)

	require.NoError(t, j.Record(ctx, journalSnapshot("browser", 2), "hash-a", "rendered a"))
	require.NoError(t, j.Record(ctx, journalSnapshot("editor", 5), "hash-b", "rendered b"))

	entries, err := j.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "editor", entries[0].ActiveApp)
	assert.Equal(t, 5, entries[0].ElementCount)
	assert.Equal(t, "hash-b", entries[0].Hash)
	assert.Equal(t, "rendered b", entries[0].Rendered)
	assert.Equal(t, "browser", entries[1].ActiveApp)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openTestJournal(t, 0)

	orig := journalSnapshot("browser", 3)
	orig.VisionSummary = "a login form"
	require.NoError(t, j.Record(ctx, orig, "hash-c", "rendered c"))

	entries, err := j.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := j.Snapshot(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "browser", got.ActiveApplication)
	assert.Equal(t, "a login form", got.VisionSummary)
	assert.Len(t, got.Elements, 3)

	_, err = j.Snapshot(ctx, 9999)
	assert.Error(t, err)
}

func TestEntryByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openTestJournal(t, 0)

	require.NoError(t, j.Record(ctx, journalSnapshot("browser", 2), "hash-a", "rendered a"))
	require.NoError(t, j.Record(ctx, journalSnapshot("editor", 5), "hash-b", "rendered b"))

	entries, err := j.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	got, err := j.EntryByID(ctx, entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "browser", got.ActiveApp)
	assert.Equal(t, "hash-a", got.Hash)
	assert.Equal(t, "rendered a", got.Rendered)

	_, err = j.EntryByID(ctx, 9999)
	assert.ErrorContains(t, err, "no journal entry 9999")
}

func TestRetentionPrunesOldEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openTestJournal(t, 3)

	for i := 0; i < 6; i++ {
		require.NoError(t, j.Record(ctx, journalSnapshot("app", i), fmt.Sprintf("hash-%d", i), "r"))
	}

	entries, err := j.History(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3, "retention keeps only the newest entries")
	assert.Equal(t, "hash-5", entries[0].Hash)
	assert.Equal(t, "hash-3", entries[2].Hash)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := Open(config.JournalConfig{}, zap.NewNop())
	assert.Error(t, err)
}
