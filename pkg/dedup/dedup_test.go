package dedup

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/ledger"
	"harvester/pkg/models"
)

func newDeduplicator(t *testing.T) (*Deduplicator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seen_ids.txt")
	seen, err := ledger.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { seen.Close() })
	return New(seen, DefaultStrategies("docId")...), path
}

func TestDeriveIDStrategyOrder(t *testing.T) {
	strategies := DefaultStrategies("docId")

	tests := []struct {
		name   string
		record *models.Record
		want   string
	}{
		{
			name:   "explicit source id",
			record: &models.Record{SourceID: "2137441", Name: "타이레놀"},
			want:   "M2137441",
		},
		{
			name: "id parameter in url",
			record: &models.Record{Name: "게보린", Fields: map[string]string{
				"url": "https://terms.naver.com/entry.naver?docId=5566&cid=51000",
			}},
			want: "M5566",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := DeriveID(tt.record, strategies)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestNameHashFallback(t *testing.T) {
	strategies := DefaultStrategies("docId")

	a, err := DeriveID(&models.Record{Name: "Aspirin  Tab", Origin: "Bayer"}, strategies)
	require.NoError(t, err)
	b, err := DeriveID(&models.Record{Name: "aspirin tab", Origin: "bayer"}, strategies)
	require.NoError(t, err)
	c, err := DeriveID(&models.Record{Name: "aspirin tab", Origin: "other"}, strategies)
	require.NoError(t, err)

	assert.Equal(t, a, b, "hash ignores case and spacing")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len("MC")+16)

	_, err = DeriveID(&models.Record{}, strategies)
	assert.Error(t, err)
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	d, path := newDeduplicator(t)

	assert.True(t, d.IsNew("M1"))
	require.NoError(t, d.MarkSeen("M1"))
	assert.False(t, d.IsNew("M1"))
	require.NoError(t, d.MarkSeen("M1"))
	assert.False(t, d.IsNew("M1"))
	assert.Equal(t, 1, d.Len())

	// survives a restart
	seen, err := ledger.Open(path)
	require.NoError(t, err)
	defer seen.Close()
	assert.False(t, New(seen).IsNew("M1"))
}

func TestReserveCommitRelease(t *testing.T) {
	d, _ := newDeduplicator(t)

	require.True(t, d.Reserve("M7"))
	assert.False(t, d.IsNew("M7"), "reserved ids are not new")
	assert.False(t, d.Reserve("M7"))

	d.Release("M7")
	assert.True(t, d.IsNew("M7"))

	require.True(t, d.Reserve("M7"))
	require.NoError(t, d.Commit("M7"))
	assert.False(t, d.Reserve("M7"))
	assert.Equal(t, 1, d.Len())
}

func TestConcurrentReserveAcceptsOnce(t *testing.T) {
	d, _ := newDeduplicator(t)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Reserve("M42") {
				winners.Add(1)
				if err := d.Commit("M42"); err != nil {
					t.Errorf("commit failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestSeed(t *testing.T) {
	d, _ := newDeduplicator(t)
	n, err := d.Seed([]string{"M1", "M2", "M1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, d.IsNew("M2"))
}
