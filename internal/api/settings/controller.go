package settings

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/offtube/offtube/internal/media"
)

type (
	Dto struct {
		DownloadDirectory      string    `json:"downloadDirectory"`
		DefaultResolution      string    `json:"defaultResolution"`
		MaxConcurrentDownloads int       `json:"maxConcurrentDownloads"`
		AutoUpdateInterval     int       `json:"autoUpdateInterval"`
		LastUpdated            time.Time `json:"lastUpdated"`
	}

	UpdateRequest struct {
		DownloadDirectory      string `json:"downloadDirectory" validate:"required"`
		DefaultResolution      string `json:"defaultResolution" validate:"required,oneof=480p 720p 1080p 1440p 2160p best"`
		MaxConcurrentDownloads int    `json:"maxConcurrentDownloads" validate:"required,min=1,max=10"`
		AutoUpdateInterval     int    `json:"autoUpdateInterval" validate:"required,min=1,max=168"`
	}

	Store interface {
		GetSettings() (*media.Settings, error)
		UpdateSettings(settings *media.Settings) (*media.Settings, error)
	}

	Controller struct {
		validate *validator.Validate
		store    Store
	}
)

func New(validate *validator.Validate, store Store) *Controller {
	return &Controller{validate: validate, store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.get)
	eg.PUT("/", controller.update)
}

func (controller *Controller) get(ec echo.Context) error {
	settings, err := controller.store.GetSettings()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load settings")
	}

	return ec.JSON(http.StatusOK, newDto(settings))
}

func (controller *Controller) update(ec echo.Context) error {
	var request UpdateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Request body is malformed")
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	updated, err := controller.store.UpdateSettings(&media.Settings{
		DownloadDirectory:      request.DownloadDirectory,
		DefaultResolution:      request.DefaultResolution,
		MaxConcurrentDownloads: request.MaxConcurrentDownloads,
		AutoUpdateInterval:     request.AutoUpdateInterval,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update settings")
	}

	return ec.JSON(http.StatusOK, newDto(updated))
}

func newDto(settings *media.Settings) Dto {
	return Dto{
		DownloadDirectory:      settings.DownloadDirectory,
		DefaultResolution:      settings.DefaultResolution,
		MaxConcurrentDownloads: settings.MaxConcurrentDownloads,
		AutoUpdateInterval:     settings.AutoUpdateInterval,
		LastUpdated:            settings.LastUpdated,
	}
}
