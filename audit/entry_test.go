package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainOf(t *testing.T, n int) []Entry {
	t.Helper()

	entries := make([]Entry, 0, n)
	prevHash := ""
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		e := Entry{
			Seq:        int64(i),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			ActorID:    "user-1",
			Action:     ActionStatusChanged,
			EntityType: "gauge",
			EntityID:   fmt.Sprintf("%d", i),
			After:      []byte(`{"status":"available"}`),
			PrevHash:   prevHash,
			Severity:   SeverityInfo,
		}
		e.Hash = ComputeHash(&e)
		prevHash = e.Hash
		entries = append(entries, e)
	}
	return entries
}

// TestComputeHash_Deterministic validates hash stability across
// recomputation.
func TestComputeHash_Deterministic(t *testing.T) {
	entries := chainOf(t, 1)
	assert.Equal(t, entries[0].Hash, ComputeHash(&entries[0]))
}

// TestComputeHash_SensitiveToPayload validates that any payload change
// changes the hash.
func TestComputeHash_SensitiveToPayload(t *testing.T) {
	entries := chainOf(t, 1)
	tampered := entries[0]
	tampered.After = []byte(`{"status":"retired"}`)
	assert.NotEqual(t, entries[0].Hash, ComputeHash(&tampered))
}

// TestVerifyEntries_ValidChain validates a clean chain end to end.
func TestVerifyEntries_ValidChain(t *testing.T) {
	result := VerifyEntries(chainOf(t, 25))
	assert.True(t, result.Valid)
	assert.Equal(t, 25, result.Checked)
	assert.Nil(t, result.FirstInvalidSeq)
}

// TestVerifyEntries_TamperedPayload validates detection of an in-place
// payload update.
func TestVerifyEntries_TamperedPayload(t *testing.T) {
	entries := chainOf(t, 10)
	entries[4].After = []byte(`{"status":"forged"}`)

	result := VerifyEntries(entries)
	require.False(t, result.Valid)
	require.NotNil(t, result.FirstInvalidSeq)
	assert.Equal(t, int64(5), *result.FirstInvalidSeq)
}

// TestVerifyEntries_BrokenBackLink validates detection of a rewritten
// previous-hash pointer.
func TestVerifyEntries_BrokenBackLink(t *testing.T) {
	entries := chainOf(t, 10)
	entries[7].PrevHash = "0000000000000000"

	result := VerifyEntries(entries)
	require.False(t, result.Valid)
	assert.Equal(t, int64(8), *result.FirstInvalidSeq)
}

// TestVerifyEntries_SequenceGap validates detection of a removed entry.
func TestVerifyEntries_SequenceGap(t *testing.T) {
	entries := chainOf(t, 10)
	entries = append(entries[:3], entries[4:]...)

	result := VerifyEntries(entries)
	require.False(t, result.Valid)
	assert.Equal(t, int64(5), *result.FirstInvalidSeq)
}

// TestVerifyEntries_NilPayloadRoundTrip validates that entries hashed
// with absent payloads stay valid only while the payloads stay absent.
// A store that reads NULL back as the JSON text "null" would change the
// hashed bytes, so the chain must distinguish nil from []byte("null").
func TestVerifyEntries_NilPayloadRoundTrip(t *testing.T) {
	entries := chainOf(t, 3)
	for i := range entries {
		entries[i].Before = nil
	}
	// Rehash with nil Before so the chain is valid as written.
	prevHash := ""
	for i := range entries {
		entries[i].PrevHash = prevHash
		entries[i].Hash = ComputeHash(&entries[i])
		prevHash = entries[i].Hash
	}

	result := VerifyEntries(entries)
	require.True(t, result.Valid)

	entries[0].Before = []byte("null")
	result = VerifyEntries(entries)
	require.False(t, result.Valid)
	require.NotNil(t, result.FirstInvalidSeq)
	assert.Equal(t, int64(1), *result.FirstInvalidSeq)
}

// TestVerifyEntries_Empty validates the trivial chain.
func TestVerifyEntries_Empty(t *testing.T) {
	result := VerifyEntries(nil)
	assert.True(t, result.Valid)
	assert.Zero(t, result.Checked)
}
