package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/offtube/offtube/internal/api"
	"github.com/offtube/offtube/internal/database"
	"github.com/offtube/offtube/internal/download"
	"github.com/offtube/offtube/internal/event"
	"github.com/offtube/offtube/internal/ffmpeg"
	"github.com/offtube/offtube/internal/ingest"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	IngestService interface {
		RunnableService
		QueueFetch(channelID string, window youtube.DateWindow) *ingest.FetchJob
		QueueRefreshAll()
		GetFetchJob(jobID uuid.UUID) *ingest.FetchJob
		GetAllFetchJobs() []*ingest.FetchJob
		RemoveFetchJob(jobID uuid.UUID) error
	}

	RestGateway interface {
		RunnableService
		BroadcastFetchComplete(string) error
		BroadcastDownloadProgress(string) error
		BroadcastDownloadComplete(string) error
		BroadcastDownloadFailed(string) error
	}
)

// offtubeImpl is the top-level object for the server, responsible for
// constructing the services and stores, wiring them together through the
// event bus and running them until stopped.
type offtubeImpl struct {
	eventBus        event.EventCoordinator
	activityService *activityService
	config          OfftubeConfig

	db           database.Manager
	orchestrator *dataOrchestrator

	cookies         *youtube.CookieFile
	metadataClient  *youtube.Client
	mergeTool       *ffmpeg.Merger
	downloadService *download.Service
	ingestService   IngestService
	restGateway     RestGateway
}

func New(config OfftubeConfig) *offtubeImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Offtube services using config: %#v\n", config)

	offtube := &offtubeImpl{
		eventBus: event.New(),
		config:   config,
		db:       database.New(),
	}

	offtube.orchestrator = newDataOrchestrator(offtube.db)
	offtube.cookies = youtube.NewCookieFile(config.getDataDir())
	offtube.metadataClient = youtube.New(config.YouTube, offtube.cookies)
	offtube.mergeTool = ffmpeg.NewMerger(config.FFmpegPath)
	offtube.downloadService = download.New(config.Download, offtube.mergeTool, offtube.cookies, download.NewProgressStore(), offtube.eventBus)
	offtube.ingestService = ingest.New(config.IngestService, offtube.metadataClient, offtube.orchestrator, offtube.eventBus)

	offtube.restGateway = api.NewRestGateway(
		&config.RestConfig,
		offtube.orchestrator,
		offtube.metadataClient,
		offtube.ingestService,
		offtube.downloadService,
		offtube.cookies,
		config.Download.BinaryPath,
		offtube.mergeTool,
	)
	offtube.activityService = newActivityService(offtube.restGateway, offtube.eventBus, offtube.downloadService, offtube.orchestrator)

	return offtube
}

// Run will start Offtube by connecting to the database and bringing up the
// long-running services. This function will not return until Offtube is
// stopped: to stop it, cancel the provided context. Errors from which a
// service cannot recover will also cause Offtube to stop.
func (offtube *offtubeImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := offtube.db.Connect(offtube.config.Database); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	offtube.spawnAsyncService(ctx, wg, offtube.ingestService, "ingest-service", crashHandler)
	offtube.spawnAsyncService(ctx, wg, offtube.activityService, "activity-service", crashHandler)
	offtube.spawnAsyncService(ctx, wg, offtube.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Offtube services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (offtube *offtubeImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
