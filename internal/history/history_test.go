package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonicat/inky_photo_frame/internal/pool"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func makePool(n int) *pool.Pool {
	photos := make([]pool.Photo, n)
	for i := range photos {
		photos[i] = pool.Photo{ID: fmt.Sprintf("p%04d.jpg", i), Size: 100, ModTime: t0.Add(time.Duration(i) * time.Second)}
	}
	return pool.New("/photos", photos)
}

// firstIndex always picks the first candidate, keeping tests deterministic.
func firstIndex(int) int { return 0 }

func TestSelect_NoRepeatWithinCycle(t *testing.T) {
	p := makePool(7)
	st := NewState()
	sel := Selector{}

	seen := map[string]bool{}
	for i := 0; i < p.Len(); i++ {
		got, err := sel.Select(st, p, RandomUnseen, "")
		require.NoError(t, err)
		assert.False(t, got.CycleReset)
		assert.False(t, seen[got.ID], "photo %s repeated before the cycle ended", got.ID)
		seen[got.ID] = true
		st.Record(got.ID, 100, t0)
	}
	assert.Len(t, seen, p.Len())
	assert.Len(t, st.Shown, p.Len())
}

func TestSelect_CycleResetExcludesCurrent(t *testing.T) {
	p := makePool(3)
	st := NewState()
	for _, id := range p.IDs() {
		st.Record(id, 100, t0)
	}
	require.Equal(t, "p0002.jpg", st.Current)

	got, err := Selector{IntN: func(n int) int { return n - 1 }}.Select(st, p, RandomUnseen, "")
	require.NoError(t, err)
	assert.True(t, got.CycleReset)
	assert.Empty(t, st.Shown)
	assert.NotEqual(t, "p0002.jpg", got.ID)
}

func TestSelect_CycleResetSinglePhoto(t *testing.T) {
	p := makePool(1)
	st := NewState()
	st.Record("p0000.jpg", 100, t0)

	got, err := Selector{}.Select(st, p, RandomUnseen, "")
	require.NoError(t, err)
	assert.True(t, got.CycleReset)
	assert.Equal(t, "p0000.jpg", got.ID)
}

func TestSelect_QueuedFirst(t *testing.T) {
	p := makePool(5)
	st := NewState()
	require.True(t, st.Enqueue("p0003.jpg", 100, t0))
	require.True(t, st.Enqueue("p0001.jpg", 100, t0))
	require.False(t, st.Enqueue("p0001.jpg", 100, t0), "duplicate enqueue")

	got, err := Selector{IntN: firstIndex}.Select(st, p, RandomUnseen, "")
	require.NoError(t, err)
	assert.Equal(t, Selection{ID: "p0003.jpg", FromQueue: true}, got)

	st.Record(got.ID, 100, t0)
	assert.Equal(t, []string{"p0001.jpg"}, st.Queued)
}

func TestSelect_EmptyPool(t *testing.T) {
	for _, d := range []Direction{RandomUnseen, NewArrival, Forward, Backward} {
		_, err := Selector{}.Select(NewState(), pool.New("/photos", nil), d, "x.jpg")
		assert.ErrorIs(t, err, ErrEmptyPool, d.String())
	}
}

func TestSelect_NewArrivalBypassesShown(t *testing.T) {
	p := makePool(3)
	st := NewState()
	st.Record("p0001.jpg", 100, t0)

	got, err := Selector{}.Select(st, p, NewArrival, "p0001.jpg")
	require.NoError(t, err)
	assert.Equal(t, "p0001.jpg", got.ID)

	_, err = Selector{}.Select(st, p, NewArrival, "gone.jpg")
	assert.ErrorIs(t, err, ErrNotInPool)
}

func TestSelect_ForwardBackwardWrap(t *testing.T) {
	p := makePool(3)
	st := NewState()
	sel := Selector{}

	st.Current = "p0002.jpg"
	got, err := sel.Select(st, p, Forward, "")
	require.NoError(t, err)
	assert.Equal(t, "p0000.jpg", got.ID)

	st.Current = "p0000.jpg"
	got, err = sel.Select(st, p, Backward, "")
	require.NoError(t, err)
	assert.Equal(t, "p0002.jpg", got.ID)

	// Missing current: step from its sort position.
	st.Current = "p0001a.jpg"
	got, _ = sel.Select(st, p, Forward, "")
	assert.Equal(t, "p0002.jpg", got.ID)
	got, _ = sel.Select(st, p, Backward, "")
	assert.Equal(t, "p0001.jpg", got.ID)

	st.Current = ""
	got, _ = sel.Select(st, p, Forward, "")
	assert.Equal(t, "p0000.jpg", got.ID)
}

func TestSelect_ForwardSinglePhoto(t *testing.T) {
	p := makePool(1)
	st := NewState()
	st.Current = "p0000.jpg"
	for _, d := range []Direction{Forward, Backward} {
		got, err := Selector{}.Select(st, p, d, "")
		require.NoError(t, err)
		assert.Equal(t, "p0000.jpg", got.ID)
	}
}

func TestRecord_UpdatesMetadata(t *testing.T) {
	st := NewState()
	st.Record("a.jpg", 10, t0)
	st.Record("a.jpg", 12, t0.Add(time.Hour))

	rec := st.Photos["a.jpg"]
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.ShowCount)
	assert.Equal(t, t0, rec.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Hour), rec.LastShownAt)
	assert.EqualValues(t, 12, rec.SizeBytes)
	assert.Equal(t, []string{"a.jpg"}, st.Shown)
	assert.Equal(t, "a.jpg", st.Current)
}

func TestCleanup_EvictionFloor(t *testing.T) {
	p := makePool(1050)
	st := NewState()
	st.Refresh(p)
	st.Record("p0003.jpg", 100, t0)

	var removed []string
	report, err := st.Cleanup(p, 1000, func(id string) error {
		removed = append(removed, id)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, report.Deleted, 50)
	assert.Equal(t, 1000, report.Remaining)
	assert.EqualValues(t, 50*100, report.BytesReclaimed)
	assert.NotContains(t, removed, "p0003.jpg")
	assert.Equal(t, "p0000.jpg", removed[0])
	assert.Equal(t, "p0050.jpg", removed[49], "current is skipped, so one more old photo goes")
	for _, id := range removed {
		assert.NotContains(t, st.Photos, id)
		assert.False(t, st.WasShown(id))
	}
	assert.Contains(t, st.Photos, "p0003.jpg")
}

func TestCleanup_UnderLimitNoop(t *testing.T) {
	p := makePool(10)
	st := NewState()
	report, err := st.Cleanup(p, 10, func(string) error {
		t.Fatal("nothing should be removed")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, 10, report.Remaining)
}

func TestCleanup_TieBreakByInsertionOrder(t *testing.T) {
	// Same timestamp everywhere: insertion order decides, not name order.
	photos := []pool.Photo{{ID: "z.jpg"}, {ID: "a.jpg"}, {ID: "m.jpg"}}
	p := pool.New("/photos", photos)
	st := NewState()
	st.Track("z.jpg", 1, t0)
	st.Track("a.jpg", 1, t0)
	st.Track("m.jpg", 1, t0)

	var removed []string
	_, err := st.Cleanup(p, 1, func(id string) error {
		removed = append(removed, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"z.jpg", "a.jpg"}, removed)
}

func TestCleanup_RemoveErrorContinues(t *testing.T) {
	p := makePool(4)
	st := NewState()
	boom := errors.New("read-only")

	report, err := st.Cleanup(p, 2, func(id string) error {
		if id == "p0000.jpg" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"p0001.jpg", "p0002.jpg"}, report.Deleted)
	assert.Contains(t, st.Photos, "p0000.jpg")
}

func TestRefresh_PrunesMissing(t *testing.T) {
	st := NewState()
	st.Record("gone.jpg", 1, t0)
	st.Enqueue("gone2.jpg", 1, t0)

	added, pruned := st.Refresh(makePool(2))
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, pruned)
	assert.Empty(t, st.Shown)
	assert.Empty(t, st.Queued)
	assert.Equal(t, "gone.jpg", st.Current)
	assert.Equal(t, t0.Add(time.Second), st.Photos["p0001.jpg"].FirstSeenAt, "first seen comes from mtime")
}

func TestShouldRotate(t *testing.T) {
	st := NewState()
	assert.True(t, st.ShouldRotate(t0, 5), "never rotated")

	st.MarkRotated(time.Date(2025, 3, 14, 5, 1, 0, 0, time.UTC))
	assert.False(t, st.ShouldRotate(time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC), 5), "already today")
	assert.False(t, st.ShouldRotate(time.Date(2025, 3, 15, 4, 59, 0, 0, time.UTC), 5), "before the hour")
	assert.True(t, st.ShouldRotate(time.Date(2025, 3, 15, 5, 0, 0, 0, time.UTC), 5))
	assert.True(t, st.ShouldRotate(time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC), 5))
}

func TestStore_LoadMissingAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.json")
	store := NewStore(path)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Photos)

	st.Record("a.jpg", 10, t0)
	st.Enqueue("b.jpg", 20, t0)
	st.MarkRotated(t0)
	require.NoError(t, store.Save(st))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, loaded.SchemaVersion)
	assert.Equal(t, "a.jpg", loaded.Current)
	assert.Equal(t, []string{"a.jpg"}, loaded.Shown)
	assert.Equal(t, []string{"b.jpg"}, loaded.Queued)
	assert.True(t, loaded.LastChange.Equal(t0))
	assert.EqualValues(t, 2, loaded.NextSeq)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_CorruptAndFutureSchema(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	_, err := NewStore(corrupt).Load()
	assert.ErrorIs(t, err, ErrCorrupt)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"schema_version": 99}`), 0o644))
	_, err = NewStore(future).Load()
	assert.ErrorIs(t, err, ErrSchema)
}

func TestStore_LegacyDocumentNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shown":["a.jpg","a.jpg"],"photos":{"a.jpg":{"seq":4}}}`), 0o644))

	st, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, st.Shown)
	assert.NotNil(t, st.Queued)
	assert.EqualValues(t, 5, st.NextSeq)
}
