package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Seq    int64  `json:"seq"`
	Action string `json:"action"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetJSON(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateBucket("entries"))

	in := record{Seq: 7, Action: "gauge_created"}
	require.NoError(t, db.PutJSON("entries", "0000007", in))

	var out record
	require.NoError(t, db.GetJSON("entries", "0000007", &out))
	assert.Equal(t, in, out)
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateBucket("entries"))

	var out record
	assert.Error(t, db.GetJSON("entries", "nope", &out))
	assert.Error(t, db.GetJSON("other-bucket", "nope", &out))
}

func TestListAndForEach(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateBucket("entries"))
	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, db.PutJSON("entries", key, record{Seq: int64(i)}))
	}

	keys, err := db.List("entries")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	var count int
	require.NoError(t, db.ForEach("entries", func(k, v []byte) error {
		count++
		return nil
	}))
	assert.Equal(t, 3, count)
}
