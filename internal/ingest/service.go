package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/offtube/offtube/internal/event"
	"github.com/offtube/offtube/internal/media"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
	"github.com/offtube/offtube/pkg/worker"
)

var log = logger.Get("IngestServ")

var (
	ErrFetchJobNotFound = errors.New("no fetch job could be found")
	ErrFetchJobRunning  = errors.New("fetch job is currently running and cannot be removed")
)

type (
	FetchJobState int

	// FetchJob tracks a single queued request to refresh one channels
	// video metadata within an optional date window.
	FetchJob struct {
		ID        uuid.UUID          `json:"id"`
		ChannelID string             `json:"channelId"`
		Window    youtube.DateWindow `json:"-"`
		State     FetchJobState      `json:"state"`
		QueuedAt  time.Time          `json:"queuedAt"`
		Error     string             `json:"error,omitempty"`
		Created   int                `json:"created"`
		Updated   int                `json:"updated"`
	}

	Config struct {
		Parallelism       int  `yaml:"parallelism" env:"INGEST_PARALLELISM" env-default:"2"`
		AutoRefresh       bool `yaml:"auto_refresh" env:"INGEST_AUTO_REFRESH" env-default:"true"`
		MinRefreshMinutes int  `yaml:"min_refresh_minutes" env:"INGEST_MIN_REFRESH_MINUTES" env-default:"15"`
	}

	fetcher interface {
		ChannelVideos(ctx context.Context, channelID string, window youtube.DateWindow) ([]youtube.VideoRecord, error)
	}

	// DataStore is the persistence surface this service needs; the
	// reconciliation write is performed by the implementor inside a
	// single transaction.
	DataStore interface {
		ListChannels() ([]*media.Channel, error)
		GetVideosByIDs(videoIDs []string) ([]*media.Video, error)
		ApplyReconciliation(channelID string, toCreate []*media.Video, toUpdate map[string]media.VideoMetadataUpdate) error
		GetSettings() (*media.Settings, error)
	}

	// ingestService owns the queue of channel fetch jobs. Jobs are
	// claimed by pool workers, run against the metadata fetcher and
	// reconciled in to the library in a single transaction per job.
	ingestService struct {
		*sync.Mutex

		fetcher    fetcher
		dataStore  DataStore
		eventBus   event.EventCoordinator
		config     Config
		jobs       []*FetchJob
		workerPool *worker.WorkerPool
	}
)

const (
	IDLE FetchJobState = iota
	FETCHING
	COMPLETE
	TROUBLED
)

func (state FetchJobState) String() string {
	switch state {
	case IDLE:
		return "IDLE"
	case FETCHING:
		return "FETCHING"
	case COMPLETE:
		return "COMPLETE"
	case TROUBLED:
		return "TROUBLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", state)
	}
}

func (state FetchJobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(state.String())
}

func New(config Config, fetcher fetcher, dataStore DataStore, eventBus event.EventCoordinator) *ingestService {
	if config.Parallelism <= 0 {
		config.Parallelism = 2
	}

	service := &ingestService{
		Mutex:      &sync.Mutex{},
		fetcher:    fetcher,
		dataStore:  dataStore,
		eventBus:   eventBus,
		config:     config,
		jobs:       make([]*FetchJob, 0),
		workerPool: worker.NewWorkerPool(),
	}

	for i := 0; i < config.Parallelism; i++ {
		label := fmt.Sprintf("fetch-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.performFetch))
	}

	return service
}

// Run starts the fetch workers and, if enabled, the periodic refresh of all
// subscribed channels. The refresh interval is read from the user settings
// each cycle so changes apply without a restart. Cancel the provided
// context to stop the service.
func (service *ingestService) Run(ctx context.Context) error {
	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start fetch worker pool: %w", err)
	}
	defer service.workerPool.Close()

	if !service.config.AutoRefresh {
		<-ctx.Done()
		return nil
	}

	for {
		timer := time.NewTimer(service.refreshInterval())
		select {
		case <-timer.C:
			service.QueueRefreshAll()
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (service *ingestService) refreshInterval() time.Duration {
	minimum := time.Duration(service.config.MinRefreshMinutes) * time.Minute
	if minimum <= 0 {
		minimum = 15 * time.Minute
	}

	settings, err := service.dataStore.GetSettings()
	if err != nil {
		log.Emit(logger.WARNING, "Failed to read settings for refresh interval, using minimum %s: %v\n", minimum, err)
		return minimum
	}

	interval := time.Duration(settings.AutoUpdateInterval) * time.Hour
	if interval < minimum {
		return minimum
	}

	return interval
}

// QueueFetch enqueues a metadata fetch for the given channel. If an IDLE or
// FETCHING job for the same channel already exists it is returned instead
// of creating a duplicate.
func (service *ingestService) QueueFetch(channelID string, window youtube.DateWindow) *FetchJob {
	service.Lock()
	defer service.Unlock()

	for _, job := range service.jobs {
		if job.ChannelID == channelID && (job.State == IDLE || job.State == FETCHING) {
			log.Emit(logger.DEBUG, "Fetch for channel %s already queued as job %s\n", channelID, job.ID)
			return copyOf(job)
		}
	}

	job := &FetchJob{
		ID:        uuid.New(),
		ChannelID: channelID,
		Window:    window,
		State:     IDLE,
		QueuedAt:  time.Now(),
	}
	service.jobs = append(service.jobs, job)

	log.Emit(logger.NEW, "Queued fetch job %s for channel %s\n", job.ID, channelID)
	service.workerPool.WakeupWorkers()
	return copyOf(job)
}

// QueueRefreshAll enqueues an open-window fetch for every subscribed
// channel. Fetches are bounded by the extractor's entry limit so an open
// window only pulls the most recent uploads.
func (service *ingestService) QueueRefreshAll() {
	channels, err := service.dataStore.ListChannels()
	if err != nil {
		log.Emit(logger.ERROR, "Failed to list channels for periodic refresh: %v\n", err)
		return
	}

	log.Emit(logger.INFO, "Queueing periodic refresh of %d channels\n", len(channels))
	for _, channel := range channels {
		service.QueueFetch(channel.ID, youtube.DateWindow{})
	}
}

// GetFetchJob returns a snapshot of the job with the given ID, or nil when
// no such job exists. Snapshots are returned so callers can never observe a
// worker mutating the job mid-read.
func (service *ingestService) GetFetchJob(jobID uuid.UUID) *FetchJob {
	service.Lock()
	defer service.Unlock()

	for _, job := range service.jobs {
		if job.ID == jobID {
			return copyOf(job)
		}
	}

	return nil
}

func (service *ingestService) GetAllFetchJobs() []*FetchJob {
	service.Lock()
	defer service.Unlock()

	jobs := make([]*FetchJob, len(service.jobs))
	for k, job := range service.jobs {
		jobs[k] = copyOf(job)
	}
	return jobs
}

func copyOf(job *FetchJob) *FetchJob {
	copied := *job
	return &copied
}

// RemoveFetchJob removes a job from the queue. Jobs currently being worked
// cannot be removed as the fetch subprocess cannot be safely abandoned
// mid-write.
func (service *ingestService) RemoveFetchJob(jobID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	for k, job := range service.jobs {
		if job.ID == jobID {
			if job.State == FETCHING {
				return ErrFetchJobRunning
			}

			service.jobs = append(service.jobs[:k], service.jobs[k+1:]...)
			return nil
		}
	}

	return ErrFetchJobNotFound
}

// performFetch is the worker function for this service; it claims the first
// IDLE job it finds and runs it to completion. Failures mark the job
// TROUBLED with the error retained for API consumers.
func (service *ingestService) performFetch(w worker.Worker) (bool, error) {
	job := service.claimIdleJob()
	if job == nil {
		return false, nil
	}

	created, updated, err := service.runFetchJob(job)

	service.Lock()
	defer service.Unlock()
	if err != nil {
		log.Emit(logger.ERROR, "Fetch job %s for channel %s failed: %v\n", job.ID, job.ChannelID, err)
		job.State = TROUBLED
		job.Error = err.Error()
		return true, nil
	}

	job.State = COMPLETE
	job.Created = created
	job.Updated = updated

	log.Emit(logger.SUCCESS, "Fetch job %s for channel %s complete (%d created, %d updated)\n", job.ID, job.ChannelID, created, updated)
	service.eventBus.Dispatch(event.FetchCompleteEvent, job.ChannelID)
	return true, nil
}

func (service *ingestService) claimIdleJob() *FetchJob {
	service.Lock()
	defer service.Unlock()

	for _, job := range service.jobs {
		if job.State == IDLE {
			job.State = FETCHING
			return job
		}
	}

	return nil
}

func (service *ingestService) runFetchJob(job *FetchJob) (int, int, error) {
	records, err := service.fetcher.ChannelVideos(context.Background(), job.ChannelID, job.Window)
	if err != nil {
		return 0, 0, fmt.Errorf("metadata fetch failed: %w", err)
	}

	videoIDs := make([]string, 0, len(records))
	for _, record := range records {
		videoIDs = append(videoIDs, record.ID)
	}

	knownVideos, err := service.dataStore.GetVideosByIDs(videoIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("existence lookup failed: %w", err)
	}

	existing := make(map[string]struct{}, len(knownVideos))
	for _, video := range knownVideos {
		existing[video.ID] = struct{}{}
	}

	toCreate, toUpdate := Reconcile(job.ChannelID, records, existing)
	if len(toCreate) == 0 && len(toUpdate) == 0 {
		return 0, 0, nil
	}

	if err := service.dataStore.ApplyReconciliation(job.ChannelID, toCreate, toUpdate); err != nil {
		return 0, 0, fmt.Errorf("reconciliation write failed: %w", err)
	}

	return len(toCreate), len(toUpdate), nil
}
