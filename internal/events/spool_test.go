package events

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolReplaysInOrder(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), 0)
	require.NoError(t, err)

	performed := time.Date(2025, 11, 28, 21, 40, 0, 0, time.UTC)
	require.NoError(t, spool.Save([]models.RequestEvent{
		{Endpoint: "/swapi/people", ResponseTimeMs: 12, PerformedAt: performed, Meta: models.Metadata{"cache": "miss"}},
	}))
	require.NoError(t, spool.Save([]models.RequestEvent{
		{Endpoint: "/swapi/movies", ResponseTimeMs: 7, PerformedAt: performed},
		{Endpoint: "/swapi/movies", ResponseTimeMs: 9, PerformedAt: performed},
	}))
	assert.Equal(t, 2, spool.Pending())

	var got []models.RequestEvent
	n, err := spool.ReplayOldest(func(events []models.RequestEvent) error {
		got = events
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, "/swapi/people", got[0].Endpoint)
	assert.True(t, performed.Equal(got[0].PerformedAt))
	assert.Equal(t, "miss", got[0].Meta["cache"])

	n, err = spool.ReplayOldest(func(events []models.RequestEvent) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = spool.ReplayOldest(func(events []models.RequestEvent) error {
		t.Fatal("empty spool should not call fn")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSpoolKeepsFileWhenReplayFails(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, spool.Save([]models.RequestEvent{{Endpoint: "/swapi/people"}}))

	_, err = spool.ReplayOldest(func([]models.RequestEvent) error { return errors.New("still down") })
	require.Error(t, err)
	assert.Equal(t, 1, spool.Pending())
}

func TestSpoolEvictsOldestWhenFull(t *testing.T) {
	dir := t.TempDir()
	sample, err := encodeBatch([]models.RequestEvent{{Endpoint: "/swapi/people", ResponseTimeMs: 1}})
	require.NoError(t, err)

	// Room for one batch of this size, not two.
	spool, err := NewSpool(dir, int64(len(sample))+int64(len(sample))/2)
	require.NoError(t, err)

	require.NoError(t, spool.Save([]models.RequestEvent{{Endpoint: "/swapi/people", ResponseTimeMs: 1}}))
	require.NoError(t, spool.Save([]models.RequestEvent{{Endpoint: "/swapi/people", ResponseTimeMs: 2}}))
	assert.Equal(t, 1, spool.Pending())

	var got []models.RequestEvent
	_, err = spool.ReplayOldest(func(events []models.RequestEvent) error {
		got = events
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ResponseTimeMs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpoolRejectsOversizedBatch(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), 8)
	require.NoError(t, err)

	err = spool.Save([]models.RequestEvent{{Endpoint: "/swapi/people"}})
	assert.ErrorIs(t, err, ErrSpoolFull)
}
