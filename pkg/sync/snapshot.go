package sync

import (
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// SnapshotVersion is bumped when the wire format changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the whole-library document stored as sync_snapshot.json in the
// remote application data folder. Entity slices are ordered by identity so
// the encoding is deterministic.
type Snapshot struct {
	Version          int                       `json:"version"`
	GeneratedAt      time.Time                 `json:"generated_at"`
	DeviceID         string                    `json:"device_id"`
	Books            []*BookVersion            `json:"books"`
	Bookmarks        []*BookmarkVersion        `json:"bookmarks"`
	Groups           []*GroupVersion           `json:"groups"`
	GroupMemberships []*GroupMembershipVersion `json:"group_memberships"`
	BookSettings     []*BookSettingsVersion    `json:"book_settings"`
}

func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	return data, errors.WithStack(err)
}

func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "snapshot is not valid JSON")
	}
	if s.Version > SnapshotVersion {
		return nil, errors.Errorf("snapshot version %d is newer than this app understands", s.Version)
	}
	return s, nil
}

// wireTime normalizes timestamps for the wire: UTC, millisecond precision.
// Both sides of every merge comparison go through this, so equality is
// stable across devices and database round trips.
func wireTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func wireTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	wt := wireTime(*t)
	return &wt
}

// BookVersion is a book's synced fields. The local file path stays out of the
// snapshot: where the archive lives is a per-device concern.
type BookVersion struct {
	Identity      string     `json:"identity"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	Title         string     `json:"title"`
	Filename      string     `json:"filename"`
	FileHash      *string    `json:"file_hash,omitempty"`
	FileSize      *int64     `json:"file_size,omitempty"`
	CurrentPage   int        `json:"current_page"`
	TotalPages    int        `json:"total_pages"`
	Favorite      bool       `json:"favorite"`
	ReadingStatus string     `json:"reading_status"`
	LastReadAt    *time.Time `json:"last_read_at,omitempty"`
}

func (v *BookVersion) SyncIdentity() string      { return v.Identity }
func (v *BookVersion) SyncUpdatedAt() time.Time  { return v.UpdatedAt }
func (v *BookVersion) SyncDeletedAt() *time.Time { return v.DeletedAt }

func NewBookVersion(b *models.Book) *BookVersion {
	return &BookVersion{
		Identity:      b.Identity,
		UpdatedAt:     wireTime(b.UpdatedAt),
		DeletedAt:     wireTimePtr(b.DeletedAt),
		Title:         b.Title,
		Filename:      b.Filename,
		FileHash:      b.FileHash,
		FileSize:      b.FileSize,
		CurrentPage:   b.CurrentPage,
		TotalPages:    b.TotalPages,
		Favorite:      b.Favorite,
		ReadingStatus: b.ReadingStatus,
		LastReadAt:    wireTimePtr(b.LastReadAt),
	}
}

// Model converts the version to a local row. When the book already exists
// locally its device-local columns carry over; a book new to this device
// starts as cloud-only until its archive is downloaded.
func (v *BookVersion) Model(existing *models.Book) *models.Book {
	b := &models.Book{
		Identity:      v.Identity,
		UpdatedAt:     v.UpdatedAt,
		DeletedAt:     v.DeletedAt,
		Title:         v.Title,
		Filename:      v.Filename,
		FileHash:      v.FileHash,
		FileSize:      v.FileSize,
		CurrentPage:   v.CurrentPage,
		TotalPages:    v.TotalPages,
		Favorite:      v.Favorite,
		ReadingStatus: v.ReadingStatus,
		LastReadAt:    v.LastReadAt,
	}
	if existing != nil {
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
		b.FilePath = existing.FilePath
	} else {
		b.FilePath = models.CloudFilePathPrefix + v.Identity
	}
	return b
}

type BookmarkVersion struct {
	Identity     string     `json:"identity"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	BookIdentity string     `json:"book_identity"`
	Name         *string    `json:"name,omitempty"`
	Page         int        `json:"page"`
}

func (v *BookmarkVersion) SyncIdentity() string      { return v.Identity }
func (v *BookmarkVersion) SyncUpdatedAt() time.Time  { return v.UpdatedAt }
func (v *BookmarkVersion) SyncDeletedAt() *time.Time { return v.DeletedAt }

func NewBookmarkVersion(bm *models.Bookmark) *BookmarkVersion {
	return &BookmarkVersion{
		Identity:     bm.Identity,
		UpdatedAt:    wireTime(bm.UpdatedAt),
		DeletedAt:    wireTimePtr(bm.DeletedAt),
		BookIdentity: bm.BookIdentity,
		Name:         bm.Name,
		Page:         bm.Page,
	}
}

func (v *BookmarkVersion) Model(existing *models.Bookmark) *models.Bookmark {
	bm := &models.Bookmark{
		Identity:     v.Identity,
		UpdatedAt:    v.UpdatedAt,
		DeletedAt:    v.DeletedAt,
		BookIdentity: v.BookIdentity,
		Name:         v.Name,
		Page:         v.Page,
	}
	if existing != nil {
		bm.ID = existing.ID
		bm.CreatedAt = existing.CreatedAt
	}
	return bm
}

type GroupVersion struct {
	Identity    string     `json:"identity"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
}

func (v *GroupVersion) SyncIdentity() string      { return v.Identity }
func (v *GroupVersion) SyncUpdatedAt() time.Time  { return v.UpdatedAt }
func (v *GroupVersion) SyncDeletedAt() *time.Time { return v.DeletedAt }

func NewGroupVersion(g *models.Group) *GroupVersion {
	return &GroupVersion{
		Identity:    g.Identity,
		UpdatedAt:   wireTime(g.UpdatedAt),
		DeletedAt:   wireTimePtr(g.DeletedAt),
		Name:        g.Name,
		Description: g.Description,
	}
}

func (v *GroupVersion) Model(existing *models.Group) *models.Group {
	g := &models.Group{
		Identity:    v.Identity,
		UpdatedAt:   v.UpdatedAt,
		DeletedAt:   v.DeletedAt,
		Name:        v.Name,
		Description: v.Description,
	}
	if existing != nil {
		g.ID = existing.ID
		g.CreatedAt = existing.CreatedAt
	}
	return g
}

type GroupMembershipVersion struct {
	Identity      string     `json:"identity"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	GroupIdentity string     `json:"group_identity"`
	BookIdentity  string     `json:"book_identity"`
	Position      int        `json:"position"`
}

func (v *GroupMembershipVersion) SyncIdentity() string      { return v.Identity }
func (v *GroupMembershipVersion) SyncUpdatedAt() time.Time  { return v.UpdatedAt }
func (v *GroupMembershipVersion) SyncDeletedAt() *time.Time { return v.DeletedAt }

func NewGroupMembershipVersion(gm *models.GroupMembership) *GroupMembershipVersion {
	return &GroupMembershipVersion{
		Identity:      gm.Identity,
		UpdatedAt:     wireTime(gm.UpdatedAt),
		DeletedAt:     wireTimePtr(gm.DeletedAt),
		GroupIdentity: gm.GroupIdentity,
		BookIdentity:  gm.BookIdentity,
		Position:      gm.Position,
	}
}

func (v *GroupMembershipVersion) Model(existing *models.GroupMembership) *models.GroupMembership {
	gm := &models.GroupMembership{
		Identity:      v.Identity,
		UpdatedAt:     v.UpdatedAt,
		DeletedAt:     v.DeletedAt,
		GroupIdentity: v.GroupIdentity,
		BookIdentity:  v.BookIdentity,
		Position:      v.Position,
	}
	if existing != nil {
		gm.ID = existing.ID
		gm.CreatedAt = existing.CreatedAt
	}
	return gm
}

type BookSettingsVersion struct {
	Identity         string     `json:"identity"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	BookIdentity     string     `json:"book_identity"`
	ReadingDirection string     `json:"reading_direction"`
	PageDisplayMode  string     `json:"page_display_mode"`
	ImageFitMode     string     `json:"image_fit_mode"`
	ReaderBackground string     `json:"reader_background"`
}

func (v *BookSettingsVersion) SyncIdentity() string      { return v.Identity }
func (v *BookSettingsVersion) SyncUpdatedAt() time.Time  { return v.UpdatedAt }
func (v *BookSettingsVersion) SyncDeletedAt() *time.Time { return v.DeletedAt }

func NewBookSettingsVersion(bs *models.BookSettings) *BookSettingsVersion {
	return &BookSettingsVersion{
		Identity:         bs.Identity,
		UpdatedAt:        wireTime(bs.UpdatedAt),
		DeletedAt:        wireTimePtr(bs.DeletedAt),
		BookIdentity:     bs.BookIdentity,
		ReadingDirection: bs.ReadingDirection,
		PageDisplayMode:  bs.PageDisplayMode,
		ImageFitMode:     bs.ImageFitMode,
		ReaderBackground: bs.ReaderBackground,
	}
}

func (v *BookSettingsVersion) Model(existing *models.BookSettings) *models.BookSettings {
	bs := &models.BookSettings{
		Identity:         v.Identity,
		UpdatedAt:        v.UpdatedAt,
		DeletedAt:        v.DeletedAt,
		BookIdentity:     v.BookIdentity,
		ReadingDirection: v.ReadingDirection,
		PageDisplayMode:  v.PageDisplayMode,
		ImageFitMode:     v.ImageFitMode,
		ReaderBackground: v.ReaderBackground,
	}
	if existing != nil {
		bs.ID = existing.ID
		bs.CreatedAt = existing.CreatedAt
	}
	return bs
}
