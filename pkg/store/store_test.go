package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketch-sync/pkg/protocol"
)

func openRepositories(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Repository{
		"sqlite": sqlite,
		"memory": NewMemoryRepository(),
	}
}

func committedFields(t *testing.T, increment protocol.Increment) map[string]interface{} {
	t.Helper()
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(increment, &fields))
	return fields
}

func TestSaveAllStampsVersionAndId(t *testing.T) {
	for name, repo := range openRepositories(t) {
		t.Run(name, func(t *testing.T) {
			committed, err := repo.SaveAll([]protocol.Increment{
				protocol.Increment(`{"shape":"circle"}`),
				protocol.Increment(`{"shape":"square"}`),
			})
			require.NoError(t, err)
			require.Len(t, committed, 2)

			first := committedFields(t, committed[0])
			second := committedFields(t, committed[1])
			assert.Equal(t, "circle", first["shape"])
			assert.Equal(t, float64(1), first["version"])
			assert.Equal(t, float64(2), second["version"])
			assert.NotEmpty(t, first["id"])
			assert.NotEqual(t, first["id"], second["id"])

			version, err := repo.LastVersion()
			require.NoError(t, err)
			assert.Equal(t, int64(2), version)
		})
	}
}

func TestSinceVersionReturnsCommitOrderTail(t *testing.T) {
	for name, repo := range openRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.SaveAll([]protocol.Increment{
				protocol.Increment(`{"n":1}`),
				protocol.Increment(`{"n":2}`),
			})
			require.NoError(t, err)
			committed, err := repo.SaveAll([]protocol.Increment{protocol.Increment(`{"n":3}`)})
			require.NoError(t, err)

			since, err := repo.SinceVersion(1)
			require.NoError(t, err)
			require.Len(t, since, 2)
			assert.Equal(t, float64(2), committedFields(t, since[0])["version"])
			assert.Equal(t, float64(3), committedFields(t, since[1])["version"])
			assert.JSONEq(t, string(committed[0]), string(since[1]))

			since, err = repo.SinceVersion(3)
			require.NoError(t, err)
			assert.Empty(t, since)
		})
	}
}

func TestSaveAllRejectsInvalidBatchAtomically(t *testing.T) {
	for name, repo := range openRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.SaveAll([]protocol.Increment{
				protocol.Increment(`{"ok":true}`),
				protocol.Increment(`[1,2,3]`),
			})
			var rejection *RejectionError
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, "increment is not a JSON object", rejection.Reason)

			version, err := repo.LastVersion()
			require.NoError(t, err)
			assert.Equal(t, int64(0), version, "a rejected batch must not move the version")
		})
	}
}

func TestSaveAllRejectsOversizedIncrement(t *testing.T) {
	repo := NewMemoryRepository()
	huge := append([]byte(`{"blob":"`), make([]byte, maxIncrementBytes)...)
	huge = append(huge, []byte(`"}`)...)
	_, err := repo.SaveAll([]protocol.Increment{protocol.Increment(huge)})
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
}
