package download

import "encoding/json"

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNoFiles
	FailureAuthRequired
	FailureFormatUnavailable
	FailureHTMLResponse
	FailureDownloadFailed
	FailureException
)

func (kind FailureKind) String() string {
	switch kind {
	case FailureNone:
		return "none"
	case FailureNoFiles:
		return "no_files"
	case FailureAuthRequired:
		return "auth_required"
	case FailureFormatUnavailable:
		return "format_unavailable"
	case FailureHTMLResponse:
		return "html_response"
	case FailureDownloadFailed:
		return "download_failed"
	case FailureException:
		return "exception"
	default:
		return "unknown"
	}
}

func (kind FailureKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(kind.String())
}

// Result is the terminal outcome of one download orchestration run. On
// success MediaPath holds the primary media file; on failure Kind carries
// the classification and Message a human-readable remediation hint.
type Result struct {
	Success   bool        `json:"success"`
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	MediaPath string      `json:"-"`
}

func succeeded(mediaPath string) Result {
	return Result{Success: true, Kind: FailureNone, Message: "Video downloaded successfully.", MediaPath: mediaPath}
}

func failed(kind FailureKind, message string) Result {
	return Result{Success: false, Kind: kind, Message: message}
}
