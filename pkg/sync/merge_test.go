package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func testBook(identity, title string, updatedAt time.Time) *BookVersion {
	return &BookVersion{
		Identity:      identity,
		UpdatedAt:     updatedAt,
		Title:         title,
		Filename:      title + ".cbz",
		CurrentPage:   1,
		TotalPages:    100,
		ReadingStatus: "reading",
	}
}

func tombstone(b *BookVersion, deletedAt time.Time) *BookVersion {
	c := *b
	c.UpdatedAt = deletedAt
	c.DeletedAt = &deletedAt
	return &c
}

func TestMergeLocalOnlyUploads(t *testing.T) {
	t.Parallel()

	local := []*BookVersion{testBook("a", "Alpha", baseTime)}

	result, err := Merge("book", local, nil, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	assert.Len(t, result.Merged, 1)
	assert.Empty(t, result.ToApply)
	assert.Equal(t, 1, result.Uploads)
	assert.Equal(t, 0, result.Downloads)
	assert.Equal(t, 0, result.Conflicts)
}

func TestMergeRemoteOnlyDownloads(t *testing.T) {
	t.Parallel()

	remote := []*BookVersion{testBook("a", "Alpha", baseTime)}

	result, err := Merge("book", nil, remote, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	assert.Len(t, result.Merged, 1)
	require.Len(t, result.ToApply, 1)
	assert.Equal(t, "a", result.ToApply[0].Identity)
	assert.Equal(t, 0, result.Uploads)
	assert.Equal(t, 1, result.Downloads)
	assert.Equal(t, 0, result.Conflicts)
}

func TestMergeIdenticalVersionsNoop(t *testing.T) {
	t.Parallel()

	local := []*BookVersion{testBook("a", "Alpha", baseTime)}
	remote := []*BookVersion{testBook("a", "Alpha", baseTime)}

	result, err := Merge("book", local, remote, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	assert.Len(t, result.Merged, 1)
	assert.Empty(t, result.ToApply)
	assert.Equal(t, 0, result.Uploads)
	assert.Equal(t, 0, result.Downloads)
	assert.Equal(t, 0, result.Conflicts)
}

func TestMergeLocalEditWins(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	local := []*BookVersion{testBook("a", "Alpha (fixed)", baseTime.Add(time.Minute))}
	remote := []*BookVersion{testBook("a", "Alpha", baseTime.Add(-time.Hour))}

	result, err := Merge("book", local, remote, lastSync)
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.Equal(t, "Alpha (fixed)", result.Merged[0].Title)
	assert.Empty(t, result.ToApply)
	assert.Equal(t, 1, result.Uploads)
	assert.Equal(t, 0, result.Downloads)
	assert.Equal(t, 0, result.Conflicts)
}

func TestMergeRemoteEditWins(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	local := []*BookVersion{testBook("a", "Alpha", baseTime.Add(-time.Hour))}
	remote := []*BookVersion{testBook("a", "Alpha (fixed)", baseTime.Add(time.Minute))}

	result, err := Merge("book", local, remote, lastSync)
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.Equal(t, "Alpha (fixed)", result.Merged[0].Title)
	require.Len(t, result.ToApply, 1)
	assert.Equal(t, 0, result.Uploads)
	assert.Equal(t, 1, result.Downloads)
	assert.Equal(t, 0, result.Conflicts)
}

func TestMergeConflictLaterWriteWins(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	local := []*BookVersion{testBook("a", "Alpha (local)", baseTime.Add(time.Minute))}
	remote := []*BookVersion{testBook("a", "Alpha (remote)", baseTime.Add(2*time.Minute))}

	result, err := Merge("book", local, remote, lastSync)
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.Equal(t, "Alpha (remote)", result.Merged[0].Title)
	require.Len(t, result.ToApply, 1)
	assert.Equal(t, 0, result.Uploads)
	assert.Equal(t, 0, result.Downloads)
	assert.Equal(t, 1, result.Conflicts)
}

func TestMergeConflictLocalLaterWins(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	local := []*BookVersion{testBook("a", "Alpha (local)", baseTime.Add(2*time.Minute))}
	remote := []*BookVersion{testBook("a", "Alpha (remote)", baseTime.Add(time.Minute))}

	result, err := Merge("book", local, remote, lastSync)
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.Equal(t, "Alpha (local)", result.Merged[0].Title)
	assert.Empty(t, result.ToApply)
	assert.Equal(t, 1, result.Conflicts)
}

func TestMergeEqualTimestampTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	updated := baseTime.Add(time.Minute)
	a := testBook("a", "Alpha (one)", updated)
	b := testBook("a", "Alpha (two)", updated)

	forward, err := Merge("book", []*BookVersion{a}, []*BookVersion{b}, lastSync)
	require.NoError(t, err)
	reverse, err := Merge("book", []*BookVersion{b}, []*BookVersion{a}, lastSync)
	require.NoError(t, err)

	require.Len(t, forward.Merged, 1)
	require.Len(t, reverse.Merged, 1)
	assert.Equal(t, forward.Merged[0].Title, reverse.Merged[0].Title)
	assert.Equal(t, 1, forward.Conflicts)
	assert.Equal(t, 1, reverse.Conflicts)
}

func TestMergeTombstoneBeatsOlderEdit(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	book := testBook("a", "Alpha", baseTime.Add(time.Minute))
	deleted := tombstone(testBook("a", "Alpha", baseTime), baseTime.Add(2*time.Minute))

	result, err := Merge("book", []*BookVersion{book}, []*BookVersion{deleted}, lastSync)
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.NotNil(t, result.Merged[0].DeletedAt)
	require.Len(t, result.ToApply, 1)
	assert.NotNil(t, result.ToApply[0].DeletedAt)
}

func TestMergeEditBeatsOlderTombstone(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	deleted := tombstone(testBook("a", "Alpha", baseTime), baseTime.Add(time.Minute))
	book := testBook("a", "Alpha (revived)", baseTime.Add(2*time.Minute))

	result, err := Merge("book", []*BookVersion{deleted}, []*BookVersion{book}, lastSync)
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.Nil(t, result.Merged[0].DeletedAt)
	assert.Equal(t, "Alpha (revived)", result.Merged[0].Title)
}

func TestMergeTombstoneOnlyCarriedWithoutCounting(t *testing.T) {
	t.Parallel()

	deleted := tombstone(testBook("a", "Alpha", baseTime), baseTime)

	result, err := Merge("book", nil, []*BookVersion{deleted}, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, result.Merged, 1)
	assert.NotNil(t, result.Merged[0].DeletedAt)
	assert.Empty(t, result.ToApply)
	assert.Equal(t, 0, result.Uploads)
	assert.Equal(t, 0, result.Downloads)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	local := []*BookVersion{
		testBook("a", "Alpha (local)", baseTime.Add(time.Minute)),
		testBook("b", "Beta", baseTime.Add(time.Minute)),
	}
	remote := []*BookVersion{
		testBook("a", "Alpha (remote)", baseTime.Add(2*time.Minute)),
		testBook("c", "Gamma", baseTime.Add(time.Minute)),
	}

	first, err := Merge("book", local, remote, lastSync)
	require.NoError(t, err)

	// Merging the merged set against either input changes nothing.
	second, err := Merge("book", first.Merged, remote, lastSync)
	require.NoError(t, err)
	assert.Empty(t, second.ToApply)
	assert.Equal(t, 0, second.Conflicts)
	assert.Equal(t, 0, second.Downloads)

	third, err := Merge("book", first.Merged, first.Merged, lastSync)
	require.NoError(t, err)
	assert.Empty(t, third.ToApply)
	assert.Equal(t, 0, third.Uploads)
	assert.Equal(t, 0, third.Downloads)
	assert.Equal(t, 0, third.Conflicts)
}

func TestMergeIsCommutative(t *testing.T) {
	t.Parallel()

	lastSync := baseTime
	sideA := []*BookVersion{
		testBook("a", "Alpha (one)", baseTime.Add(time.Minute)),
		testBook("b", "Beta", baseTime.Add(time.Minute)),
		tombstone(testBook("d", "Delta", baseTime), baseTime.Add(time.Minute)),
	}
	sideB := []*BookVersion{
		testBook("a", "Alpha (two)", baseTime.Add(time.Minute)),
		testBook("c", "Gamma", baseTime.Add(time.Minute)),
	}

	forward, err := Merge("book", sideA, sideB, lastSync)
	require.NoError(t, err)
	reverse, err := Merge("book", sideB, sideA, lastSync)
	require.NoError(t, err)

	require.Len(t, forward.Merged, len(reverse.Merged))
	for i := range forward.Merged {
		assert.Equal(t, forward.Merged[i].Identity, reverse.Merged[i].Identity)
		assert.Equal(t, forward.Merged[i].Title, reverse.Merged[i].Title)
	}
}

func TestMergeMergedIsOrderedByIdentity(t *testing.T) {
	t.Parallel()

	local := []*BookVersion{
		testBook("c", "Gamma", baseTime),
		testBook("a", "Alpha", baseTime),
	}
	remote := []*BookVersion{testBook("b", "Beta", baseTime)}

	result, err := Merge("book", local, remote, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, result.Merged, 3)
	assert.Equal(t, "a", result.Merged[0].Identity)
	assert.Equal(t, "b", result.Merged[1].Identity)
	assert.Equal(t, "c", result.Merged[2].Identity)
}

func TestMergeDuplicateIdentityFails(t *testing.T) {
	t.Parallel()

	local := []*BookVersion{
		testBook("a", "Alpha", baseTime),
		testBook("a", "Alpha again", baseTime),
	}

	_, err := Merge("book", local, nil, baseTime)
	require.Error(t, err)
}

func TestMergeMissingIdentityFails(t *testing.T) {
	t.Parallel()

	remote := []*BookVersion{testBook("", "Nameless", baseTime)}

	_, err := Merge("book", nil, remote, baseTime)
	require.Error(t, err)
}

func testSettings(identity, bookIdentity string, updatedAt time.Time) *BookSettingsVersion {
	return &BookSettingsVersion{
		Identity:         identity,
		UpdatedAt:        updatedAt,
		BookIdentity:     bookIdentity,
		ReadingDirection: "ltr",
		PageDisplayMode:  "single",
		ImageFitMode:     "fit-height",
		ReaderBackground: "black",
	}
}

func TestCollapseSettingsDuplicates(t *testing.T) {
	t.Parallel()

	t.Run("later row wins and the loser is tombstoned", func(t *testing.T) {
		t.Parallel()

		older := testSettings("a", "book-1", baseTime)
		newer := testSettings("b", "book-1", baseTime.Add(time.Minute))

		out, demoted := collapseSettingsDuplicates([]*BookSettingsVersion{older, newer})
		require.Len(t, out, 2)
		require.Len(t, demoted, 1)

		assert.Equal(t, "a", demoted[0].Identity)
		require.NotNil(t, demoted[0].DeletedAt)
		assert.True(t, demoted[0].UpdatedAt.After(newer.UpdatedAt))

		for _, v := range out {
			if v.Identity == "b" {
				assert.Nil(t, v.DeletedAt)
			} else {
				assert.NotNil(t, v.DeletedAt)
			}
		}
	})

	t.Run("timestamp tie is broken by identity", func(t *testing.T) {
		t.Parallel()

		a := testSettings("a", "book-1", baseTime)
		b := testSettings("b", "book-1", baseTime)

		_, demoted := collapseSettingsDuplicates([]*BookSettingsVersion{b, a})
		require.Len(t, demoted, 1)
		assert.Equal(t, "a", demoted[0].Identity)
	})

	t.Run("distinct books and existing tombstones are untouched", func(t *testing.T) {
		t.Parallel()

		one := testSettings("a", "book-1", baseTime)
		two := testSettings("b", "book-2", baseTime)
		deletedAt := baseTime.Add(-time.Hour)
		gone := testSettings("c", "book-1", deletedAt)
		gone.DeletedAt = &deletedAt

		out, demoted := collapseSettingsDuplicates([]*BookSettingsVersion{one, two, gone})
		assert.Empty(t, demoted)
		require.Len(t, out, 3)
		assert.Nil(t, out[0].DeletedAt)
		assert.Nil(t, out[1].DeletedAt)
		require.NotNil(t, out[2].DeletedAt)
		assert.True(t, out[2].DeletedAt.Equal(deletedAt))
	})
}
