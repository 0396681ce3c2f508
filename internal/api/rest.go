package api

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/offtube/offtube/internal/api/auth"
	"github.com/offtube/offtube/internal/api/channels"
	"github.com/offtube/offtube/internal/api/ingests"
	"github.com/offtube/offtube/internal/api/settings"
	"github.com/offtube/offtube/internal/api/videos"
	"github.com/offtube/offtube/internal/http/websocket"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// dataStore is the union of all the controller store requirements.
	dataStore interface {
		channels.Store
		videos.Store
		settings.Store
	}

	// ingestService is the union of the fetch-queueing and job-query
	// surfaces of the ingest service.
	ingestService interface {
		channels.IngestService
		ingests.Service
	}

	// metadataService is the union of the source-lookup surfaces the
	// controllers need.
	metadataService interface {
		channels.MetadataService
		videos.MetadataService
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes the server exposes and
	// to manage the activity websocket.
	RestGateway struct {
		*broadcaster
		config             *RestConfig
		ec                 *echo.Echo
		socket             *websocket.SocketHub
		channelsController controller
		videosController   controller
		settingsController controller
		authController     controller
		ingestsController  controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	store dataStore,
	metadata metadataService,
	ingestServ ingestService,
	downloadServ videos.DownloadService,
	cookies *youtube.CookieFile,
	downloaderPath string,
	mergeTool auth.MergeTool,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:        newBroadcaster(socket, ingestServ, downloadServ),
		config:             config,
		ec:                 ec,
		socket:             socket,
		channelsController: channels.New(validate, store, metadata, ingestServ),
		videosController:   videos.New(validate, store, metadata, downloadServ),
		settingsController: settings.New(validate, store),
		authController:     auth.New(cookies, downloaderPath, mergeTool),
		ingestsController:  ingests.New(ingestServ),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/offtube/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	gateway.channelsController.SetRoutes(ec.Group("/api/offtube/v1/channels"))
	gateway.videosController.SetRoutes(ec.Group("/api/offtube/v1/videos"))
	gateway.settingsController.SetRoutes(ec.Group("/api/offtube/v1/settings"))
	gateway.authController.SetRoutes(ec.Group("/api/offtube/v1/auth"))
	gateway.ingestsController.SetRoutes(ec.Group("/api/offtube/v1/ingests"))

	return gateway
}

// Run starts the router and the websocket hub, blocking until the provided
// context is cancelled or the router fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Parent context cancellation is an orderly shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
