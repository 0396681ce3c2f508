package auth

import (
	"errors"
	"io"
	"net/http"
	"os/exec"

	"github.com/labstack/echo/v4"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
)

var controllerLogger = logger.Get("AuthController")

// maxCookieUploadBytes bounds cookie uploads; real browser exports are in
// the tens of kilobytes.
const maxCookieUploadBytes = 4 << 20

type (
	StatusDto struct {
		youtube.CookieStatus
		Guidance string `json:"guidance,omitempty"`
	}

	TroubleshootingDto struct {
		Cookies         youtube.CookieStatus `json:"cookies"`
		DownloaderFound bool                 `json:"downloaderFound"`
		DownloaderPath  string               `json:"downloaderPath,omitempty"`
		MergeToolFound  bool                 `json:"mergeToolFound"`
		MergeToolPath   string               `json:"mergeToolPath,omitempty"`
	}

	MergeTool interface {
		Available() bool
		BinaryPath() string
	}

	Controller struct {
		cookies        *youtube.CookieFile
		downloaderPath string
		mergeTool      MergeTool
	}
)

func New(cookies *youtube.CookieFile, downloaderPath string, mergeTool MergeTool) *Controller {
	return &Controller{cookies: cookies, downloaderPath: downloaderPath, mergeTool: mergeTool}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/status/", controller.status)
	eg.POST("/cookies/", controller.uploadCookies)
	eg.DELETE("/cookies/", controller.removeCookies)
	eg.GET("/troubleshooting/", controller.troubleshooting)
}

// status reports whether a cookie file is present along with guidance when
// it is missing or stale.
func (controller *Controller) status(ec echo.Context) error {
	status := controller.cookies.Status()

	dto := StatusDto{CookieStatus: status}
	switch {
	case !status.Present:
		dto.Guidance = "No cookie file uploaded. Export cookies.txt from a signed-in browser session to enable subscriptions and restricted downloads."
	case status.Stale:
		dto.Guidance = "The uploaded cookie file is over 30 days old and has likely expired. Upload a fresh export."
	}

	return ec.JSON(http.StatusOK, dto)
}

// uploadCookies accepts a Netscape-format cookie export either as a
// multipart 'file' field or as the raw request body.
func (controller *Controller) uploadCookies(ec echo.Context) error {
	contents, err := readCookieUpload(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read cookie upload")
	}
	if len(contents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Cookie upload is empty")
	}

	if err := controller.cookies.Store(contents); err != nil {
		if errors.Is(err, youtube.ErrInvalidCookieFile) {
			return echo.NewHTTPError(http.StatusBadRequest, "The uploaded file does not contain YouTube cookies")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store cookie file")
	}

	controllerLogger.Emit(logger.SUCCESS, "Cookie file updated (%d bytes)\n", len(contents))
	return ec.JSON(http.StatusOK, controller.cookies.Status())
}

func (controller *Controller) removeCookies(ec echo.Context) error {
	if err := controller.cookies.Remove(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to remove cookie file")
	}

	return ec.NoContent(http.StatusNoContent)
}

// troubleshooting reports the health of the external tool dependencies so
// a failing download can be diagnosed without shell access.
func (controller *Controller) troubleshooting(ec echo.Context) error {
	dto := TroubleshootingDto{
		Cookies:        controller.cookies.Status(),
		MergeToolFound: controller.mergeTool.Available(),
	}
	if dto.MergeToolFound {
		dto.MergeToolPath = controller.mergeTool.BinaryPath()
	}

	if path, err := exec.LookPath(controller.downloaderPath); err == nil {
		dto.DownloaderFound = true
		dto.DownloaderPath = path
	}

	return ec.JSON(http.StatusOK, dto)
}

func readCookieUpload(ec echo.Context) ([]byte, error) {
	if fileHeader, err := ec.FormFile("file"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			return nil, err
		}
		defer file.Close()

		return io.ReadAll(io.LimitReader(file, maxCookieUploadBytes))
	}

	return io.ReadAll(io.LimitReader(ec.Request().Body, maxCookieUploadBytes))
}
