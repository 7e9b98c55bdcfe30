package sync

import (
	"testing"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	generatedAt := wireTime(time.Now())
	name := "halfway"
	snapshot := &Snapshot{
		Version:     SnapshotVersion,
		GeneratedAt: generatedAt,
		DeviceID:    "device-1",
		Books:       []*BookVersion{testBook("a", "Alpha", generatedAt)},
		Bookmarks: []*BookmarkVersion{{
			Identity:     "bm1",
			UpdatedAt:    generatedAt,
			BookIdentity: "a",
			Name:         &name,
			Page:         42,
		}},
	}

	data, err := MarshalSnapshot(snapshot)
	require.NoError(t, err)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, decoded.Version)
	assert.Equal(t, "device-1", decoded.DeviceID)
	assert.True(t, decoded.GeneratedAt.Equal(generatedAt))
	require.Len(t, decoded.Books, 1)
	assert.Equal(t, "Alpha", decoded.Books[0].Title)
	require.Len(t, decoded.Bookmarks, 1)
	require.NotNil(t, decoded.Bookmarks[0].Name)
	assert.Equal(t, "halfway", *decoded.Bookmarks[0].Name)
}

func TestUnmarshalSnapshot_RejectsNewerVersion(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalSnapshot([]byte(`{"version":99}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestUnmarshalSnapshot_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalSnapshot([]byte(`not json`))
	require.Error(t, err)
}

func TestWireTime_NormalizesToUTCMilliseconds(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("JST", 9*60*60)
	local := time.Date(2025, 8, 1, 21, 0, 0, 123456789, loc)

	wt := wireTime(local)
	assert.Equal(t, time.UTC, wt.Location())
	assert.Equal(t, 123000000, wt.Nanosecond())
	assert.True(t, wt.Equal(local.Truncate(time.Millisecond)))

	assert.Nil(t, wireTimePtr(nil))
	got := wireTimePtr(&local)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNewBookVersion_ExcludesFilePath(t *testing.T) {
	t.Parallel()

	book := &models.Book{
		Identity:  "a",
		UpdatedAt: time.Now(),
		Title:     "Alpha",
		Filename:  "alpha.cbz",
		FilePath:  "/home/reader/library/alpha.cbz",
	}

	v := NewBookVersion(book)
	data, err := canonicalBytes(v)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/home/reader/library")
}

func TestBookVersionModel(t *testing.T) {
	t.Parallel()

	now := wireTime(time.Now())
	v := testBook("a", "Alpha", now)

	t.Run("new to this device starts cloud-only", func(t *testing.T) {
		t.Parallel()

		book := v.Model(nil)
		assert.Equal(t, models.CloudFilePathPrefix+"a", book.FilePath)
		assert.True(t, book.IsCloudOnly())
		assert.Zero(t, book.ID)
	})

	t.Run("existing book keeps local columns", func(t *testing.T) {
		t.Parallel()

		createdAt := now.Add(-time.Hour)
		existing := &models.Book{
			ID:        7,
			Identity:  "a",
			CreatedAt: createdAt,
			FilePath:  "/home/reader/library/alpha.cbz",
		}

		book := v.Model(existing)
		assert.Equal(t, 7, book.ID)
		assert.True(t, book.CreatedAt.Equal(createdAt))
		assert.Equal(t, "/home/reader/library/alpha.cbz", book.FilePath)
		assert.Equal(t, "Alpha", book.Title)
	})
}
