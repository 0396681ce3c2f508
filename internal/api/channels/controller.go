package channels

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/offtube/offtube/internal/ingest"
	"github.com/offtube/offtube/internal/media"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
)

var controllerLogger = logger.Get("ChannelsController")

type (
	Dto struct {
		ID           string    `json:"id"`
		Title        string    `json:"title"`
		ThumbnailURL string    `json:"thumbnailUrl"`
		Description  string    `json:"description"`
		LastUpdated  time.Time `json:"lastUpdated"`
	}

	SubscribeRequest struct {
		ChannelID string `json:"channelId" validate:"required"`
	}

	SubscriptionDto struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnailUrl"`
		Subscribed   bool   `json:"subscribed"`
	}

	SubscriptionsDto struct {
		Strategy string            `json:"strategy"`
		Channels []SubscriptionDto `json:"channels"`
	}

	Store interface {
		ListChannels() ([]*media.Channel, error)
		GetChannel(channelID string) (*media.Channel, error)
		SaveChannel(channel *media.Channel) error
		DeleteChannel(channelID string) error
	}

	MetadataService interface {
		ChannelInfo(ctx context.Context, channelID string) (*youtube.ChannelRecord, error)
		Subscriptions(ctx context.Context) ([]youtube.ChannelRecord, string, error)
	}

	IngestService interface {
		QueueFetch(channelID string, window youtube.DateWindow) *ingest.FetchJob
	}

	Controller struct {
		validate *validator.Validate
		store    Store
		metadata MetadataService
		ingests  IngestService
	}
)

func New(validate *validator.Validate, store Store, metadata MetadataService, ingests IngestService) *Controller {
	return &Controller{validate: validate, store: store, metadata: metadata, ingests: ingests}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.subscribe)
	eg.GET("/subscriptions/", controller.listSubscriptions)
	eg.POST("/subscriptions/import/", controller.importSubscriptions)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/fetch/", controller.queueFetch)
}

func (controller *Controller) list(ec echo.Context) error {
	channels, err := controller.store.ListChannels()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list channels")
	}

	dtos := make([]Dto, len(channels))
	for k, channel := range channels {
		dtos[k] = newDto(channel)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// subscribe resolves the provided channel identifier (handle, canonical ID
// or legacy custom name) against the source, persists the channel and
// queues an initial metadata fetch.
func (controller *Controller) subscribe(ec echo.Context) error {
	var request SubscribeRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Request body is malformed")
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "A channel ID is required")
	}

	record, err := controller.metadata.ChannelInfo(ec.Request().Context(), request.ChannelID)
	if err != nil {
		if errors.Is(err, youtube.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Channel could not be found at the source")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to resolve channel information")
	}

	channel := &media.Channel{
		ID:           record.ID,
		Title:        record.Title,
		ThumbnailURL: record.ThumbnailURL,
		Description:  record.Description,
	}
	if err := controller.store.SaveChannel(channel); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save channel")
	}

	job := controller.ingests.QueueFetch(channel.ID, youtube.DateWindow{})
	controllerLogger.Emit(logger.INFO, "Subscribed to channel %s, initial fetch queued as %s\n", channel.ID, job.ID)

	return ec.JSON(http.StatusCreated, newDto(channel))
}

func (controller *Controller) get(ec echo.Context) error {
	channel, err := controller.store.GetChannel(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch channel")
	}

	return ec.JSON(http.StatusOK, newDto(channel))
}

func (controller *Controller) delete(ec echo.Context) error {
	if err := controller.store.DeleteChannel(ec.Param("id")); err != nil {
		if errors.Is(err, media.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete channel")
	}

	return ec.NoContent(http.StatusNoContent)
}

// queueFetch enqueues a metadata fetch for the channel, optionally bounded
// by 'start'/'end' date query parameters (RFC 3339 or YYYY-MM-DD) or the
// 'days' shorthand (fetch everything published in the last N days).
func (controller *Controller) queueFetch(ec echo.Context) error {
	channelID := ec.Param("id")
	if _, err := controller.store.GetChannel(channelID); err != nil {
		if errors.Is(err, media.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch channel")
	}

	window, err := parseDateWindow(ec.QueryParam("start"), ec.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if days := ec.QueryParam("days"); days != "" {
		value, err := strconv.Atoi(days)
		if err != nil || value <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "'days' must be a positive integer")
		}

		start := time.Now().AddDate(0, 0, -value)
		window.Start = &start
	}

	job := controller.ingests.QueueFetch(channelID, window)
	return ec.JSON(http.StatusAccepted, job)
}

func (controller *Controller) listSubscriptions(ec echo.Context) error {
	records, strategy, err := controller.metadata.Subscriptions(ec.Request().Context())
	if err != nil {
		if errors.Is(err, youtube.ErrUnauthenticated) {
			return echo.NewHTTPError(http.StatusForbidden, "Fetching subscriptions requires an uploaded cookie file")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch subscriptions from the source")
	}

	subscribed := controller.subscribedSet()
	dtos := make([]SubscriptionDto, len(records))
	for k, record := range records {
		_, ok := subscribed[record.ID]
		dtos[k] = SubscriptionDto{ID: record.ID, Title: record.Title, ThumbnailURL: record.ThumbnailURL, Subscribed: ok}
	}

	return ec.JSON(http.StatusOK, SubscriptionsDto{Strategy: strategy, Channels: dtos})
}

// importSubscriptions persists every source subscription not already
// tracked locally and queues an initial fetch for each. Failures on
// individual channels are logged and skipped so one bad channel does not
// abort the import.
func (controller *Controller) importSubscriptions(ec echo.Context) error {
	records, strategy, err := controller.metadata.Subscriptions(ec.Request().Context())
	if err != nil {
		if errors.Is(err, youtube.ErrUnauthenticated) {
			return echo.NewHTTPError(http.StatusForbidden, "Importing subscriptions requires an uploaded cookie file")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch subscriptions from the source")
	}

	subscribed := controller.subscribedSet()
	imported := make([]Dto, 0, len(records))
	for _, record := range records {
		if _, ok := subscribed[record.ID]; ok {
			continue
		}

		channel := &media.Channel{
			ID:           record.ID,
			Title:        record.Title,
			ThumbnailURL: record.ThumbnailURL,
			Description:  record.Description,
		}
		if err := controller.store.SaveChannel(channel); err != nil {
			controllerLogger.Emit(logger.WARNING, "Skipping import of channel %s: %v\n", record.ID, err)
			continue
		}

		controller.ingests.QueueFetch(channel.ID, youtube.DateWindow{})
		imported = append(imported, newDto(channel))
	}

	controllerLogger.Emit(logger.INFO, "Imported %d subscriptions using strategy %s\n", len(imported), strategy)
	return ec.JSON(http.StatusCreated, imported)
}

func (controller *Controller) subscribedSet() map[string]struct{} {
	set := make(map[string]struct{})
	channels, err := controller.store.ListChannels()
	if err != nil {
		controllerLogger.Emit(logger.WARNING, "Failed to list local channels: %v\n", err)
		return set
	}

	for _, channel := range channels {
		set[channel.ID] = struct{}{}
	}
	return set
}

func newDto(channel *media.Channel) Dto {
	return Dto{
		ID:           channel.ID,
		Title:        channel.Title,
		ThumbnailURL: channel.ThumbnailURL,
		Description:  channel.Description,
		LastUpdated:  channel.LastUpdated,
	}
}

// parseDateWindow accepts RFC 3339 timestamps or plain dates; an empty
// parameter leaves that bound open.
func parseDateWindow(start string, end string) (youtube.DateWindow, error) {
	parse := func(value string) (*time.Time, error) {
		if value == "" {
			return nil, nil
		}

		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if at, err := time.Parse(layout, value); err == nil {
				return &at, nil
			}
		}

		return nil, errors.New("dates must be RFC 3339 timestamps or YYYY-MM-DD")
	}

	startAt, err := parse(start)
	if err != nil {
		return youtube.DateWindow{}, err
	}

	endAt, err := parse(end)
	if err != nil {
		return youtube.DateWindow{}, err
	}

	return youtube.DateWindow{Start: startAt, End: endAt}, nil
}
