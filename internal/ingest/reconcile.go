package ingest

import (
	"github.com/offtube/offtube/internal/media"
	"github.com/offtube/offtube/internal/youtube"
)

// Reconcile partitions freshly fetched video metadata against the set of
// video IDs already known to the library. Records already present produce
// metadata updates; unseen records produce new rows. The update set only
// ever carries content metadata, so repeated reconciliation of the same
// fetch result is idempotent and can never disturb download state.
func Reconcile(channelID string, fetched []youtube.VideoRecord, existing map[string]struct{}) ([]*media.Video, map[string]media.VideoMetadataUpdate) {
	toCreate := make([]*media.Video, 0)
	toUpdate := make(map[string]media.VideoMetadataUpdate)
	seen := make(map[string]struct{}, len(fetched))

	for _, record := range fetched {
		if record.ID == "" {
			continue
		}
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}

		owner := record.ChannelID
		if owner == "" {
			owner = channelID
		}

		if _, known := existing[record.ID]; known {
			toUpdate[record.ID] = media.VideoMetadataUpdate{
				Title:        record.Title,
				Description:  record.Description,
				PublishedAt:  record.PublishedAt,
				ThumbnailURL: record.ThumbnailURL,
				Duration:     record.Duration,
				ViewCount:    record.ViewCount,
				LikeCount:    record.LikeCount,
			}
			continue
		}

		toCreate = append(toCreate, &media.Video{
			ID:           record.ID,
			ChannelID:    owner,
			Title:        record.Title,
			Description:  record.Description,
			PublishedAt:  record.PublishedAt,
			ThumbnailURL: record.ThumbnailURL,
			Duration:     record.Duration,
			ViewCount:    record.ViewCount,
			LikeCount:    record.LikeCount,
		})
	}

	return toCreate, toUpdate
}
