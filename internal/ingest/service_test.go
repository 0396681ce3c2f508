package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/offtube/offtube/internal/event"
	"github.com/offtube/offtube/internal/ingest"
	"github.com/offtube/offtube/internal/media"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { logger.SetMinLoggingLevel(logger.ERROR.Level()) }

type stubFetcher struct {
	mu      sync.Mutex
	records []youtube.VideoRecord
	err     error
	calls   int
}

func (fetcher *stubFetcher) ChannelVideos(_ context.Context, _ string, _ youtube.DateWindow) ([]youtube.VideoRecord, error) {
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()

	fetcher.calls++
	return fetcher.records, fetcher.err
}

type stubDataStore struct {
	mu       sync.Mutex
	channels []*media.Channel
	known    []*media.Video
	applied  bool
	created  []*media.Video
	updated  map[string]media.VideoMetadataUpdate
	applyErr error
}

func (store *stubDataStore) ListChannels() ([]*media.Channel, error) {
	return store.channels, nil
}

func (store *stubDataStore) GetVideosByIDs(_ []string) ([]*media.Video, error) {
	return store.known, nil
}

func (store *stubDataStore) ApplyReconciliation(_ string, toCreate []*media.Video, toUpdate map[string]media.VideoMetadataUpdate) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.applyErr != nil {
		return store.applyErr
	}

	store.applied = true
	store.created = toCreate
	store.updated = toUpdate
	return nil
}

func (store *stubDataStore) GetSettings() (*media.Settings, error) {
	return &media.Settings{AutoUpdateInterval: 24}, nil
}

func startService(t *testing.T, fetcher *stubFetcher, store *stubDataStore) (*event.HandlerChannel, func(string, youtube.DateWindow) *ingest.FetchJob, func(uuid.UUID) *ingest.FetchJob, func(uuid.UUID) error) {
	t.Helper()

	eventBus := event.New()
	handlerChannel := make(event.HandlerChannel, 10)
	eventBus.RegisterHandlerChannel(handlerChannel, event.FetchCompleteEvent)

	service := ingest.New(ingest.Config{Parallelism: 1, AutoRefresh: false}, fetcher, store, eventBus)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := service.Run(ctx); err != nil {
			t.Errorf("ingest service run failed: %v", err)
		}
	}()

	return &handlerChannel, service.QueueFetch, service.GetFetchJob, service.RemoveFetchJob
}

func waitForEvent(t *testing.T, handlerChannel *event.HandlerChannel) event.HandlerEvent {
	t.Helper()

	select {
	case message := <-*handlerChannel:
		return message
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fetch completion event")
		return event.HandlerEvent{}
	}
}

func Test_IngestService_CompletesFetchJob(t *testing.T) {
	fetcher := &stubFetcher{records: []youtube.VideoRecord{record("v1", "One"), record("v2", "Two")}}
	store := &stubDataStore{known: []*media.Video{{ID: "v1"}}}
	handlerChannel, queueFetch, getJob, _ := startService(t, fetcher, store)

	job := queueFetch("UCchannel000000000000000", youtube.DateWindow{})
	message := waitForEvent(t, handlerChannel)

	assert.Equal(t, event.FetchCompleteEvent, message.Event)
	assert.Equal(t, "UCchannel000000000000000", message.Payload)

	completed := getJob(job.ID)
	require.NotNil(t, completed)
	assert.Equal(t, ingest.COMPLETE, completed.State)
	assert.Equal(t, 1, completed.Created)
	assert.Equal(t, 1, completed.Updated)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.True(t, store.applied)
	require.Len(t, store.created, 1)
	assert.Equal(t, "v2", store.created[0].ID)
	assert.Contains(t, store.updated, "v1")
}

func Test_IngestService_MarksJobTroubledOnFetchFailure(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("extractor blew up")}
	store := &stubDataStore{}
	_, queueFetch, getJob, _ := startService(t, fetcher, store)

	job := queueFetch("UCchannel000000000000000", youtube.DateWindow{})

	require.Eventually(t, func() bool {
		return getJob(job.ID).State == ingest.TROUBLED
	}, 5*time.Second, 10*time.Millisecond)

	troubled := getJob(job.ID)
	assert.Contains(t, troubled.Error, "extractor blew up")
	assert.False(t, store.applied, "no writes happen when the fetch fails")
}

func Test_IngestService_MarksJobTroubledOnWriteFailure(t *testing.T) {
	fetcher := &stubFetcher{records: []youtube.VideoRecord{record("v1", "One")}}
	store := &stubDataStore{applyErr: errors.New("database is sad")}
	_, queueFetch, getJob, _ := startService(t, fetcher, store)

	job := queueFetch("UCchannel000000000000000", youtube.DateWindow{})

	require.Eventually(t, func() bool {
		return getJob(job.ID).State == ingest.TROUBLED
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, getJob(job.ID).Error, "database is sad")
}

func Test_IngestService_DeduplicatesQueuedJobs(t *testing.T) {
	// A fetcher with no scripted records which blocks long enough for the
	// second queue call to observe the first job still pending.
	fetcher := &stubFetcher{}
	store := &stubDataStore{}

	eventBus := event.New()
	service := ingest.New(ingest.Config{Parallelism: 1, AutoRefresh: false}, fetcher, store, eventBus)

	first := service.QueueFetch("UCchannel000000000000000", youtube.DateWindow{})
	second := service.QueueFetch("UCchannel000000000000000", youtube.DateWindow{})
	other := service.QueueFetch("UCother00000000000000000", youtube.DateWindow{})

	assert.Equal(t, first.ID, second.ID, "queueing the same channel twice yields the same job")
	assert.NotEqual(t, first.ID, other.ID)
	assert.Len(t, service.GetAllFetchJobs(), 2)
}

func Test_IngestService_RemoveFetchJob(t *testing.T) {
	fetcher := &stubFetcher{}
	store := &stubDataStore{}
	eventBus := event.New()
	service := ingest.New(ingest.Config{Parallelism: 1, AutoRefresh: false}, fetcher, store, eventBus)

	job := service.QueueFetch("UCchannel000000000000000", youtube.DateWindow{})

	require.NoError(t, service.RemoveFetchJob(job.ID))
	assert.Empty(t, service.GetAllFetchJobs())
	assert.ErrorIs(t, service.RemoveFetchJob(job.ID), ingest.ErrFetchJobNotFound)
}
