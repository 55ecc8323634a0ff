package checkpoint

// ============================================================================
// Checkpoint manager tests: atomic write, load, version and corruption checks
// ============================================================================

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

func sampleData(day int) types.SnapshotData {
	return types.SnapshotData{
		RunID:        "3f1c2c9e-0000-4000-8000-000000000001",
		Seed:         42,
		Day:          day,
		FlightsFlown: 17,
		Streams: map[string][]byte{
			"travel":      {1, 2, 3, 4},
			"country/FRA": {9, 8, 7},
		},
		Countries: []types.CountrySnapshot{
			{Code: "FRA", Population: 100, Counts: types.Counts{S: 80, E: 10, I: 5, R: 5}},
			{Code: "DEU", Population: 50, Counts: types.Counts{S: 50}},
		},
		Routes:     []types.RouteSnapshot{{ID: 1, PeriodMean: 2.5, PeriodStd: 1}},
		Flights:    []types.FlightSnapshot{{Day: day + 2, Route: 1, Seq: 33}},
		NextSeq:    34,
		JournalSeq: 120,
	}
}

func TestNewManager(t *testing.T) {
	m := NewManager("cp.json", -1)
	assert.NotNil(t, m)
	assert.Equal(t, "cp.json", m.Path())
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	m := NewManager(path, 0)

	original := sampleData(30)
	require.NoError(t, m.Write(original))
	assert.True(t, m.Exists())

	loaded, err := m.Load()
	require.NoError(t, err)

	original.SchemaVer = types.SchemaVersion
	assert.Equal(t, original, loaded)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not linger")
}

func TestLoadMissing(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "none.json"), 0)
	assert.False(t, m.Exists())

	_, err := m.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver": 1, "countries": [`), 0o644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrCorruptedCheckpoint)

	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver": 1}`), 0o644))
	_, err = LoadFile(path)
	assert.ErrorIs(t, err, ErrCorruptedCheckpoint, "a checkpoint without countries is useless")
}

func TestLoadIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_ver": 99, "countries": [{"code": "FRA"}]}`), 0o644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestWriteKeepsBoundedBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	m := NewManager(path, 2)

	for day := 1; day <= 5; day++ {
		require.NoError(t, m.Write(sampleData(day)))
	}

	backups, err := m.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	latest, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Day)

	older, err := LoadFile(backups[len(backups)-1])
	require.NoError(t, err)
	assert.Equal(t, 4, older.Day)
}

func TestWriteWithoutBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	m := NewManager(path, 0)
	require.NoError(t, m.Write(sampleData(1)))
	require.NoError(t, m.Write(sampleData(2)))

	backups, err := m.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	m := NewManager(path, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			assert.NoError(t, m.Write(sampleData(day)))
		}(i)
	}
	wg.Wait()

	data, err := m.Load()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, data.Day, 0)
	assert.Len(t, data.Countries, 2)
}
