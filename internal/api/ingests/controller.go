package ingests

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/offtube/offtube/internal/ingest"
)

type (
	// Service is the slice of the ingest service this controller needs.
	Service interface {
		GetAllFetchJobs() []*ingest.FetchJob
		GetFetchJob(jobID uuid.UUID) *ingest.FetchJob
		RemoveFetchJob(jobID uuid.UUID) error
		QueueRefreshAll()
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/refresh/", controller.refresh)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
}

func (controller *Controller) list(ec echo.Context) error {
	return ec.JSON(http.StatusOK, controller.service.GetAllFetchJobs())
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Fetch job ID is not a valid UUID")
	}

	job := controller.service.GetFetchJob(id)
	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, job)
}

func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Fetch job ID is not a valid UUID")
	}

	if err := controller.service.RemoveFetchJob(id); err != nil {
		switch {
		case errors.Is(err, ingest.ErrFetchJobNotFound):
			return echo.NewHTTPError(http.StatusNotFound)
		case errors.Is(err, ingest.ErrFetchJobRunning):
			return echo.NewHTTPError(http.StatusConflict, "Fetch job is currently running and cannot be removed")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to remove fetch job")
		}
	}

	return ec.NoContent(http.StatusNoContent)
}

// refresh queues a metadata fetch for every subscribed channel.
func (controller *Controller) refresh(ec echo.Context) error {
	controller.service.QueueRefreshAll()
	return ec.NoContent(http.StatusAccepted)
}
