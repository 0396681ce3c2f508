package websocket

type MessageType int

const (
	Welcome MessageType = iota
	Update
)

func (messageType MessageType) String() string {
	switch messageType {
	case Welcome:
		return "WELCOME"
	case Update:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

func (messageType MessageType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + messageType.String() + `"`), nil
}

// SocketMessage is the JSON envelope pushed to connected activity clients.
type SocketMessage struct {
	Title string         `json:"title"`
	Body  map[string]any `json:"arguments"`
	Type  MessageType    `json:"type"`
}
