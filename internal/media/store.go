package media

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/offtube/offtube/internal/database"
	"github.com/offtube/offtube/pkg/logger"
)

var log = logger.Get("MediaStore")

type Store struct{}

func NewStore() *Store { return &Store{} }

func (store *Store) ListChannels(db database.Queryable) ([]*Channel, error) {
	var results []Channel
	if err := db.Select(&results, `SELECT * FROM channels ORDER BY title ASC`); err != nil {
		return nil, err
	}

	output := make([]*Channel, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

func (store *Store) GetChannel(db database.Queryable, channelID string) (*Channel, error) {
	var channel Channel
	if err := db.Get(&channel, db.Rebind(`SELECT * FROM channels WHERE id=?`), channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}

	return &channel, nil
}

// SaveChannel upserts the provided channel, refreshing its metadata and
// last_updated stamp if a row with the same ID already exists.
func (store *Store) SaveChannel(db database.Queryable, channel *Channel) error {
	_, err := db.NamedExec(`
		INSERT INTO channels(id, title, thumbnail_url, description, last_updated)
		VALUES(:id, :title, :thumbnail_url, :description, current_timestamp)
		ON CONFLICT(id) DO UPDATE
			SET title=EXCLUDED.title, thumbnail_url=EXCLUDED.thumbnail_url,
			    description=EXCLUDED.description, last_updated=current_timestamp
	`, channel)
	if err != nil {
		return fmt.Errorf("failed to save channel %s: %w", channel.ID, err)
	}

	return nil
}

// DeleteChannel removes the channel row; its videos are removed by the
// ON DELETE CASCADE constraint on the videos table.
func (store *Store) DeleteChannel(db database.Queryable, channelID string) error {
	result, err := db.Exec(db.Rebind(`DELETE FROM channels WHERE id=?`), channelID)
	if err != nil {
		return err
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrChannelNotFound
	}

	return nil
}

func (store *Store) GetVideo(db database.Queryable, videoID string) (*Video, error) {
	var video Video
	if err := db.Get(&video, db.Rebind(`SELECT * FROM videos WHERE id=?`), videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}

	return &video, nil
}

// GetVideosByIDs performs a single batched lookup of all the provided IDs.
// Missing IDs are simply absent from the result; it is the callers job to
// diff the result against the request if needed.
func (store *Store) GetVideosByIDs(db database.Queryable, videoIDs []string) ([]*Video, error) {
	if len(videoIDs) == 0 {
		return []*Video{}, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM videos WHERE id IN (?)`, videoIDs)
	if err != nil {
		return nil, err
	}

	var results []Video
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Video, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

func (store *Store) ListVideos(db database.Queryable, filter VideoFilter) ([]*Video, error) {
	builder := videoFilterBuilder(squirrel.Select("*").From("videos"), filter).
		OrderBy("published_at DESC")

	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list videos query: %w", err)
	}

	var results []Video
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Video, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

func (store *Store) CountVideos(db database.Queryable, filter VideoFilter) (int, error) {
	query, args, err := videoFilterBuilder(squirrel.Select("COUNT(*)").From("videos"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to construct count videos query: %w", err)
	}

	var count int
	if err := db.Get(&count, db.Rebind(query), args...); err != nil {
		return 0, err
	}

	return count, nil
}

// CreateVideoBatch inserts the provided videos in a single statement. New
// videos always start with downloaded=false and zero progress regardless of
// what the caller populated; those fields are owned by the download service.
func (store *Store) CreateVideoBatch(db database.Queryable, videos []*Video) error {
	if len(videos) == 0 {
		return nil
	}

	_, err := db.NamedExec(`
		INSERT INTO videos(id, channel_id, title, description, published_at, thumbnail_url,
		                   duration, view_count, like_count, downloaded, download_progress)
		VALUES(:id, :channel_id, :title, :description, :published_at, :thumbnail_url,
		       :duration, :view_count, :like_count, FALSE, 0.0)
		ON CONFLICT(id) DO NOTHING
	`, videos)
	if err != nil {
		return fmt.Errorf("failed to insert video batch: %w", err)
	}

	return nil
}

// UpdateVideoMetadata refreshes the content-metadata columns of a single
// existing video. Download status columns are never touched here.
func (store *Store) UpdateVideoMetadata(db database.Queryable, videoID string, update VideoMetadataUpdate) error {
	_, err := db.Exec(db.Rebind(`
		UPDATE videos
		SET title=?, description=?, published_at=?, thumbnail_url=?, duration=?, view_count=?, like_count=?
		WHERE id=?
	`), update.Title, update.Description, update.PublishedAt, update.ThumbnailURL,
		update.Duration, update.ViewCount, update.LikeCount, videoID)

	return err
}

// MarkVideoDownloaded records a successful download against the video row,
// forcing the durable progress to 1.0.
func (store *Store) MarkVideoDownloaded(db database.Queryable, videoID string, resolution string, localPath string, at time.Time) error {
	result, err := db.Exec(db.Rebind(`
		UPDATE videos
		SET downloaded=TRUE, downloaded_at=?, downloaded_resolution=?, local_path=?, download_progress=1.0
		WHERE id=?
	`), at, resolution, localPath, videoID)
	if err != nil {
		return err
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrVideoNotFound
	}

	return nil
}

// SetVideoProgress persists the durable fallback copy of a videos in-flight
// download progress.
func (store *Store) SetVideoProgress(db database.Queryable, videoID string, progress float64) error {
	_, err := db.Exec(db.Rebind(`UPDATE videos SET download_progress=? WHERE id=?`), progress, videoID)
	return err
}

func (store *Store) DeleteVideo(db database.Queryable, videoID string) error {
	result, err := db.Exec(db.Rebind(`DELETE FROM videos WHERE id=?`), videoID)
	if err != nil {
		return err
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrVideoNotFound
	}

	return nil
}

// GetSettings returns the singleton settings row, creating it with default
// values on first read.
func (store *Store) GetSettings(db database.Queryable) (*Settings, error) {
	var settings Settings
	err := db.Get(&settings, `SELECT * FROM user_settings ORDER BY id ASC LIMIT 1`)
	if err == nil {
		return &settings, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	log.Emit(logger.NEW, "No user settings found, creating defaults\n")
	if _, err := db.Exec(`INSERT INTO user_settings DEFAULT VALUES`); err != nil {
		return nil, fmt.Errorf("failed to create default settings: %w", err)
	}

	if err := db.Get(&settings, `SELECT * FROM user_settings ORDER BY id ASC LIMIT 1`); err != nil {
		return nil, err
	}

	return &settings, nil
}

func (store *Store) UpdateSettings(db database.Queryable, settings *Settings) (*Settings, error) {
	existing, err := store.GetSettings(db)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(db.Rebind(`
		UPDATE user_settings
		SET download_directory=?, default_resolution=?, max_concurrent_downloads=?,
		    auto_update_interval=?, last_updated=current_timestamp
		WHERE id=?
	`), settings.DownloadDirectory, settings.DefaultResolution, settings.MaxConcurrentDownloads,
		settings.AutoUpdateInterval, existing.ID)
	if err != nil {
		return nil, err
	}

	return store.GetSettings(db)
}

// videoFilterBuilder applies the shared WHERE clauses used by both the list
// and count queries. The date window filters downloaded_at when the filter
// selects downloaded videos, and published_at otherwise.
func videoFilterBuilder(builder squirrel.SelectBuilder, filter VideoFilter) squirrel.SelectBuilder {
	if filter.ChannelID != nil {
		builder = builder.Where("channel_id=?", *filter.ChannelID)
	}

	dateColumn := "published_at"
	if filter.Downloaded != nil {
		builder = builder.Where("downloaded=?", *filter.Downloaded)
		if *filter.Downloaded {
			dateColumn = "downloaded_at"
		}
	}

	if filter.StartDate != nil {
		builder = builder.Where(dateColumn+">=?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		builder = builder.Where(dateColumn+"<=?", *filter.EndDate)
	}

	return builder
}
