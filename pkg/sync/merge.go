package sync

import (
	"bytes"
	"sort"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/library"
	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// MergeResult is the outcome of merging one entity type. Merged is the full
// set for the pushed snapshot, ordered by identity; ToApply holds the remote
// versions that must be written locally.
type MergeResult[T models.Syncable] struct {
	Merged    []T
	ToApply   []T
	Uploads   int
	Downloads int
	Conflicts int
}

// Merge reconciles the local and remote versions of one entity type using
// last-writer-wins on updated_at. It is pure: no I/O, no clock reads. The
// merge is commutative (up to which side a tie's winner is drawn from, which
// the content tie-break makes deterministic) and idempotent: merging the
// result with either input again produces no further changes.
//
// Tombstones are ordinary versions here: a deletion with a later updated_at
// beats an edit and vice versa, in both directions.
func Merge[T models.Syncable](entityType string, local, remote []T, lastSync time.Time) (*MergeResult[T], error) {
	if err := library.VerifyIdentities(entityType, local); err != nil {
		return nil, err
	}
	if err := library.VerifyIdentities(entityType, remote); err != nil {
		return nil, err
	}

	localByID := make(map[string]T, len(local))
	for _, e := range local {
		localByID[e.SyncIdentity()] = e
	}
	remoteByID := make(map[string]T, len(remote))
	for _, e := range remote {
		remoteByID[e.SyncIdentity()] = e
	}

	identities := make([]string, 0, len(localByID)+len(remoteByID))
	for id := range localByID {
		identities = append(identities, id)
	}
	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			identities = append(identities, id)
		}
	}
	sort.Strings(identities)

	result := &MergeResult[T]{}

	for _, id := range identities {
		l, hasLocal := localByID[id]
		r, hasRemote := remoteByID[id]

		switch {
		case hasLocal && !hasRemote:
			result.Merged = append(result.Merged, l)
			if l.SyncDeletedAt() == nil {
				result.Uploads++
			}

		case !hasLocal && hasRemote:
			result.Merged = append(result.Merged, r)
			if r.SyncDeletedAt() == nil {
				result.Downloads++
				result.ToApply = append(result.ToApply, r)
			}

		default:
			winner, fromRemote, conflict, err := pickWinner(l, r, lastSync)
			if err != nil {
				return nil, err
			}
			result.Merged = append(result.Merged, winner)
			if conflict {
				result.Conflicts++
			}
			if fromRemote {
				result.ToApply = append(result.ToApply, winner)
				if !conflict {
					result.Downloads++
				}
			} else if conflict || l.SyncUpdatedAt().After(lastSync) {
				// Local version survives; it only counts as an upload when it
				// actually changed since the last sync and isn't a conflict.
				if !conflict && !versionsEqual(l, r) {
					result.Uploads++
				}
			}
		}
	}

	return result, nil
}

// pickWinner resolves two versions of the same identity. Returns the winner,
// whether it came from the remote side (and so must be applied locally), and
// whether this counted as a conflict (both sides changed since lastSync with
// divergent content).
func pickWinner[T models.Syncable](l, r T, lastSync time.Time) (T, bool, bool, error) {
	if versionsEqual(l, r) {
		// Identical content converged on its own; nothing to do either way.
		return l, false, false, nil
	}

	localChanged := l.SyncUpdatedAt().After(lastSync)
	remoteChanged := r.SyncUpdatedAt().After(lastSync)

	switch {
	case localChanged && !remoteChanged:
		return l, false, false, nil
	case !localChanged && remoteChanged:
		return r, true, false, nil
	case !localChanged && !remoteChanged:
		// Neither side claims a change but the content differs; trust the
		// later timestamp so repeated merges stay stable.
		if r.SyncUpdatedAt().After(l.SyncUpdatedAt()) {
			return r, true, false, nil
		}
		return l, false, false, nil
	}

	// Both changed with divergent content: a real conflict, resolved by the
	// later write.
	if r.SyncUpdatedAt().After(l.SyncUpdatedAt()) {
		return r, true, true, nil
	}
	if l.SyncUpdatedAt().After(r.SyncUpdatedAt()) {
		return l, false, true, nil
	}

	// Equal timestamps: break the tie on the canonical encoding so every
	// device picks the same winner.
	lb, err := canonicalBytes(l)
	if err != nil {
		return l, false, false, err
	}
	rb, err := canonicalBytes(r)
	if err != nil {
		return l, false, false, err
	}
	if bytes.Compare(rb, lb) > 0 {
		return r, true, true, nil
	}
	return l, false, true, nil
}

// collapseSettingsDuplicates keeps one live settings row per book. Two
// devices that each auto-created settings for the same book produce two
// identities for it; the later-updated row wins (identity breaks a timestamp
// tie) and every loser becomes a tombstone stamped with the current time, so
// the demotion propagates to other devices like any other deletion. Returns
// the collapsed set plus the demoted versions.
func collapseSettingsDuplicates(merged []*BookSettingsVersion) ([]*BookSettingsVersion, []*BookSettingsVersion) {
	winners := make(map[string]*BookSettingsVersion, len(merged))
	for _, v := range merged {
		if v.DeletedAt != nil {
			continue
		}
		w, ok := winners[v.BookIdentity]
		if !ok || settingsWins(v, w) {
			winners[v.BookIdentity] = v
		}
	}

	out := make([]*BookSettingsVersion, 0, len(merged))
	demoted := []*BookSettingsVersion{}
	now := wireTime(time.Now())
	for _, v := range merged {
		if v.DeletedAt == nil && winners[v.BookIdentity] != v {
			loser := *v
			loser.UpdatedAt = now
			loser.DeletedAt = &now
			demoted = append(demoted, &loser)
			out = append(out, &loser)
			continue
		}
		out = append(out, v)
	}
	return out, demoted
}

func settingsWins(a, b *BookSettingsVersion) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.Identity > b.Identity
}

func canonicalBytes[T models.Syncable](e T) ([]byte, error) {
	data, err := json.Marshal(e)
	return data, errors.WithStack(err)
}

func versionsEqual[T models.Syncable](a, b T) bool {
	ab, err := canonicalBytes(a)
	if err != nil {
		return false
	}
	bb, err := canonicalBytes(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
