package ws

import "encoding/json"

// Frame kinds of the scene wire protocol. Every websocket text message is
// exactly one JSON-encoded frame.
const (
	frameConnect   = "connect"
	frameConnected = "connected"
	frameRPC       = "rpc"
	frameResult    = "result"
	frameError     = "error"
	framePush      = "push"
	frameClose     = "close"
)

type frame struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Route   string          `json:"route,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ErrorID string          `json:"errorId,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func encodeFrame(f frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, err
	}

	return f, nil
}
