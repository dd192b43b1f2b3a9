package csvstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltio/internal/model"
)

func ts(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func row(day, hour int, value float64) model.ObservationRow {
	return model.ObservationRow{
		EntityID:   "1001",
		EntityName: "PVPC",
		Timestamp:  ts(day, hour),
		Value:      model.Value(value),
	}
}

func TestWriteRangeNamesFileAfterChunk(t *testing.T) {
	dir := t.TempDir()
	writer, err := New(dir)
	require.NoError(t, err)

	count, err := writer.WriteRange("1001", ts(1, 0), ts(8, 0), []model.ObservationRow{row(1, 0, 50), row(1, 1, 55)})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.FileExists(t, filepath.Join(dir, "1001_2024-01-01_2024-01-08.csv"))
	assert.FileExists(t, filepath.Join(dir, "1001_latest.csv"))
}

func TestWriteRangeEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	writer, err := New(dir)
	require.NoError(t, err)

	count, err := writer.WriteRange("1001", ts(1, 0), ts(8, 0), nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLatestMergesAcrossRanges(t *testing.T) {
	writer, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = writer.WriteRange("1001", ts(1, 0), ts(2, 0), []model.ObservationRow{row(1, 0, 50), row(1, 1, 55)})
	require.NoError(t, err)
	_, err = writer.WriteRange("1001", ts(2, 0), ts(3, 0), []model.ObservationRow{row(2, 0, 60)})
	require.NoError(t, err)

	latest, err := writer.ReadLatest("1001")
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.True(t, latest[0].Timestamp.Equal(ts(1, 0)))
	assert.True(t, latest[2].Timestamp.Equal(ts(2, 0)))
}

func TestLatestRewriteWins(t *testing.T) {
	writer, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = writer.WriteRange("1001", ts(1, 0), ts(2, 0), []model.ObservationRow{row(1, 0, 50)})
	require.NoError(t, err)
	_, err = writer.WriteRange("1001", ts(1, 0), ts(2, 0), []model.ObservationRow{row(1, 0, 99)})
	require.NoError(t, err)

	latest, err := writer.ReadLatest("1001")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.NotNil(t, latest[0].Value)
	assert.Equal(t, 99.0, *latest[0].Value)
}

func TestReadLatestMissingFile(t *testing.T) {
	writer, err := New(t.TempDir())
	require.NoError(t, err)

	latest, err := writer.ReadLatest("nope")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestReplaceLatest(t *testing.T) {
	writer, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = writer.WriteRange("1001", ts(1, 0), ts(2, 0), []model.ObservationRow{row(1, 0, 50), row(1, 1, 55)})
	require.NoError(t, err)

	// Rebuild the view from scratch, unsorted input.
	require.NoError(t, writer.ReplaceLatest("1001", []model.ObservationRow{row(3, 0, 70), row(2, 0, 65)}))

	latest, err := writer.ReadLatest("1001")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.True(t, latest[0].Timestamp.Equal(ts(2, 0)))
	assert.True(t, latest[1].Timestamp.Equal(ts(3, 0)))
}

func TestRoundTripPreservesOptionalFields(t *testing.T) {
	writer, err := New(t.TempDir())
	require.NoError(t, err)

	geoID := int64(8741)
	in := model.ObservationRow{
		EntityID:   "1001",
		EntityName: "PVPC",
		Timestamp:  ts(1, 0),
		Value:      model.Value(50.5),
		GeoID:      &geoID,
		GeoName:    "Península",
	}
	_, err = writer.WriteRange("1001", ts(1, 0), ts(2, 0), []model.ObservationRow{in})
	require.NoError(t, err)

	latest, err := writer.ReadLatest("1001")
	require.NoError(t, err)
	require.Len(t, latest, 1)

	got := latest[0]
	assert.Equal(t, "PVPC", got.EntityName)
	require.NotNil(t, got.GeoID)
	assert.Equal(t, int64(8741), *got.GeoID)
	assert.Equal(t, "Península", got.GeoName)
	assert.Nil(t, got.Bid)
	assert.Nil(t, got.ValueMin)
}
