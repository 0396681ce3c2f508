package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/offtube/offtube/internal/event"
	"github.com/offtube/offtube/pkg/logger"
)

const (
	debounceDuration = time.Second * 2
	maxTimerDuration = time.Second * 5

	rapidEventDebounceDuration = time.Millisecond * 500
	rapidEventMaxTimerDuration = time.Second * 2
)

type (
	broadcastHandler func(string) error

	broadcaster interface {
		BroadcastFetchComplete(string) error
		BroadcastDownloadProgress(string) error
		BroadcastDownloadComplete(string) error
		BroadcastDownloadFailed(string) error
	}

	progressTracker interface {
		Progress(videoID string) float64
	}

	progressPersister interface {
		SetVideoProgress(videoID string, progress float64) error
	}

	eventKey struct {
		ev event.Event
		id string
	}

	// activityService listens on the event bus and relays activity to the
	// websocket clients via the gateway's broadcaster. Rapid-fire events
	// (download progress) are debounced per video so a busy download
	// doesn't flood every connected client.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		progress       progressTracker
		store          progressPersister
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityService(broadcaster broadcaster, eventBus event.EventHandler, progress progressTracker, store progressPersister) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       eventBus,
		progress:       progress,
		store:          store,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.FetchCompleteEvent, event.DownloadProgressEvent,
		event.DownloadCompleteEvent, event.DownloadFailedEvent)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(string)
	if !ok {
		return errors.New("illegal payload (expected string ID)")
	}

	resourceKey := eventKey{id: resourceID, ev: ev.Event}

	switch ev.Event {
	case event.FetchCompleteEvent:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastFetchComplete)
	case event.DownloadProgressEvent:
		service.scheduleRapidEventBroadcast(resourceKey, service.relayDownloadProgress)
	case event.DownloadCompleteEvent:
		service.cancelPendingBroadcast(eventKey{id: resourceID, ev: event.DownloadProgressEvent})
		return service.BroadcastDownloadComplete(resourceID)
	case event.DownloadFailedEvent:
		service.cancelPendingBroadcast(eventKey{id: resourceID, ev: event.DownloadProgressEvent})
		return service.BroadcastDownloadFailed(resourceID)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

// relayDownloadProgress persists the latest progress figure before pushing
// it to connected clients, so the API can answer progress queries after a
// restart mid-download.
func (service *activityService) relayDownloadProgress(videoID string) error {
	if err := service.store.SetVideoProgress(videoID, service.progress.Progress(videoID)); err != nil {
		log.Emit(logger.WARNING, "Failed to persist download progress for video %s: %v\n", videoID, err)
	}

	return service.BroadcastDownloadProgress(videoID)
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service.doScheduleEventBroadcast(resourceKey, handler, debounceDuration, maxTimerDuration)
}

func (service *activityService) scheduleRapidEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service.doScheduleEventBroadcast(resourceKey, handler, rapidEventDebounceDuration, rapidEventMaxTimerDuration)
}

func (service *activityService) doScheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler, debounceTime time.Duration, maxTime time.Duration) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(debounceTime, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(maxTime, broadcaster)
	}
}

// cancelPendingBroadcast drops any queued debounce for the given key; used
// when a terminal event supersedes pending progress updates.
func (service *activityService) cancelPendingBroadcast(resourceKey eventKey) {
	service.Lock()
	defer service.Unlock()

	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
	}
	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
	}
}

func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	service.Lock()
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
	}
	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
	}
	service.Unlock()

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.ERROR, "Broadcast for %v (resource %s) failed: %v\n", resourceKey.ev, resourceKey.id, err)
	}
}
