package api

import (
	"github.com/offtube/offtube/internal/api/ingests"
	"github.com/offtube/offtube/internal/http/websocket"
)

const (
	TitleFetchComplete    = "FETCH_COMPLETE"
	TitleDownloadProgress = "DOWNLOAD_PROGRESS_UPDATE"
	TitleDownloadComplete = "DOWNLOAD_COMPLETE"
	TitleDownloadFailed   = "DOWNLOAD_FAILED"
)

// broadcaster pushes library activity over the websocket hub. The gateway
// embeds it so the rest of the application can trigger broadcasts without
// knowing about the socket layer.
type broadcaster struct {
	socketHub    *websocket.SocketHub
	ingestServ   ingests.Service
	progressServ progressService
}

type progressService interface {
	Progress(videoID string) float64
}

func newBroadcaster(socketHub *websocket.SocketHub, ingestServ ingests.Service, progressServ progressService) *broadcaster {
	hub := &broadcaster{socketHub: socketHub, ingestServ: ingestServ, progressServ: progressServ}
	socketHub.WithConnectionCallback(hub.connectionPayload)
	return hub
}

// connectionPayload furnishes newly connected clients with the current
// fetch job queue so they need not wait for the next update.
func (hub *broadcaster) connectionPayload() map[string]any {
	return map[string]any{"fetchJobs": hub.ingestServ.GetAllFetchJobs()}
}

func (hub *broadcaster) BroadcastFetchComplete(channelID string) error {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: TitleFetchComplete,
		Type:  websocket.Update,
		Body:  map[string]any{"channelId": channelID},
	})
	return nil
}

func (hub *broadcaster) BroadcastDownloadProgress(videoID string) error {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: TitleDownloadProgress,
		Type:  websocket.Update,
		Body:  map[string]any{"videoId": videoID, "progress": hub.progressServ.Progress(videoID)},
	})
	return nil
}

func (hub *broadcaster) BroadcastDownloadComplete(videoID string) error {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: TitleDownloadComplete,
		Type:  websocket.Update,
		Body:  map[string]any{"videoId": videoID},
	})
	return nil
}

func (hub *broadcaster) BroadcastDownloadFailed(videoID string) error {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: TitleDownloadFailed,
		Type:  websocket.Update,
		Body:  map[string]any{"videoId": videoID},
	})
	return nil
}
