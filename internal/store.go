package internal

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/offtube/offtube/internal/database"
	"github.com/offtube/offtube/internal/media"
)

// dataOrchestrator is responsible for exposing the methods of the various
// data stores, bound to the database manager's active connection. Methods
// which must perform multiple writes atomically wrap them in a transaction.
type dataOrchestrator struct {
	db         database.Manager
	mediaStore *media.Store
}

func newDataOrchestrator(db database.Manager) *dataOrchestrator {
	return &dataOrchestrator{db: db, mediaStore: media.NewStore()}
}

func (orchestrator *dataOrchestrator) ListChannels() ([]*media.Channel, error) {
	return orchestrator.mediaStore.ListChannels(orchestrator.db.GetSqlxDb())
}

func (orchestrator *dataOrchestrator) GetChannel(channelID string) (*media.Channel, error) {
	return orchestrator.mediaStore.GetChannel(orchestrator.db.GetSqlxDb(), channelID)
}

func (orchestrator *dataOrchestrator) SaveChannel(channel *media.Channel) error {
	return orchestrator.mediaStore.SaveChannel(orchestrator.db.GetSqlxDb(), channel)
}

func (orchestrator *dataOrchestrator) DeleteChannel(channelID string) error {
	return orchestrator.mediaStore.DeleteChannel(orchestrator.db.GetSqlxDb(), channelID)
}

func (orchestrator *dataOrchestrator) GetVideo(videoID string) (*media.Video, error) {
	return orchestrator.mediaStore.GetVideo(orchestrator.db.GetSqlxDb(), videoID)
}

func (orchestrator *dataOrchestrator) GetVideosByIDs(videoIDs []string) ([]*media.Video, error) {
	return orchestrator.mediaStore.GetVideosByIDs(orchestrator.db.GetSqlxDb(), videoIDs)
}

func (orchestrator *dataOrchestrator) ListVideos(filter media.VideoFilter) ([]*media.Video, error) {
	return orchestrator.mediaStore.ListVideos(orchestrator.db.GetSqlxDb(), filter)
}

func (orchestrator *dataOrchestrator) CountVideos(filter media.VideoFilter) (int, error) {
	return orchestrator.mediaStore.CountVideos(orchestrator.db.GetSqlxDb(), filter)
}

func (orchestrator *dataOrchestrator) CreateVideos(videos []*media.Video) error {
	return orchestrator.mediaStore.CreateVideoBatch(orchestrator.db.GetSqlxDb(), videos)
}

// ApplyReconciliation persists the outcome of a channel fetch: newly
// discovered videos are inserted and the metadata of known videos is
// refreshed. Both happen inside one transaction so a partially applied
// fetch can never be observed.
func (orchestrator *dataOrchestrator) ApplyReconciliation(channelID string, toCreate []*media.Video, toUpdate map[string]media.VideoMetadataUpdate) error {
	return orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		if err := orchestrator.mediaStore.CreateVideoBatch(tx, toCreate); err != nil {
			return err
		}

		for videoID, update := range toUpdate {
			if err := orchestrator.mediaStore.UpdateVideoMetadata(tx, videoID, update); err != nil {
				return err
			}
		}

		return nil
	})
}

func (orchestrator *dataOrchestrator) MarkVideoDownloaded(videoID string, resolution string, localPath string, at time.Time) error {
	return orchestrator.mediaStore.MarkVideoDownloaded(orchestrator.db.GetSqlxDb(), videoID, resolution, localPath, at)
}

func (orchestrator *dataOrchestrator) SetVideoProgress(videoID string, progress float64) error {
	return orchestrator.mediaStore.SetVideoProgress(orchestrator.db.GetSqlxDb(), videoID, progress)
}

func (orchestrator *dataOrchestrator) DeleteVideo(videoID string) error {
	return orchestrator.mediaStore.DeleteVideo(orchestrator.db.GetSqlxDb(), videoID)
}

func (orchestrator *dataOrchestrator) GetSettings() (*media.Settings, error) {
	return orchestrator.mediaStore.GetSettings(orchestrator.db.GetSqlxDb())
}

func (orchestrator *dataOrchestrator) UpdateSettings(settings *media.Settings) (*media.Settings, error) {
	return orchestrator.mediaStore.UpdateSettings(orchestrator.db.GetSqlxDb(), settings)
}
