package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func sampleResult(units uint64) *svm.ExecutionResult {
	return &svm.ExecutionResult{
		Status:       svm.Success(),
		ComputeUnits: units,
		Logs:         []string{"Program log: hello"},
	}
}

func TestJournalRecordAndGet(t *testing.T) {
	j := openTestJournal(t)

	entry, err := j.Record("transfer", sampleResult(450))
	require.NoError(t, err)
	require.Equal(t, uint64(1), entry.Seq)
	require.False(t, entry.Digest == (types.Hash{}))

	got, err := j.Get("transfer", entry.Seq)
	require.NoError(t, err)
	require.Equal(t, entry.Digest, got.Digest)
	require.Equal(t, "transfer", got.Scenario)
}

func TestJournalDeterministicDigest(t *testing.T) {
	j := openTestJournal(t)

	first, err := j.Record("transfer", sampleResult(450))
	require.NoError(t, err)
	second, err := j.Record("transfer", sampleResult(450))
	require.NoError(t, err)

	require.Equal(t, uint64(2), second.Seq)
	require.Equal(t, first.Digest, second.Digest)

	third, err := j.Record("transfer", sampleResult(900))
	require.NoError(t, err)
	require.NotEqual(t, first.Digest, third.Digest)
}

func TestJournalList(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 3; i++ {
		_, err := j.Record("chain", sampleResult(uint64(100*(i+1))))
		require.NoError(t, err)
	}
	_, err := j.Record("other", sampleResult(50))
	require.NoError(t, err)

	entries, err := j.List("chain")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		require.Equal(t, uint64(i+1), entry.Seq)
	}

	names, err := j.Scenarios()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"chain", "other"}, names)
}

func TestJournalGetMissing(t *testing.T) {
	j := openTestJournal(t)

	_, err := j.Get("absent", 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = j.Record("present", sampleResult(1))
	require.NoError(t, err)
	_, err = j.Get("present", 99)
	require.ErrorIs(t, err, ErrNotFound)
}
