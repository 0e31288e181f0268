package models

// Message types sent over the websocket connection.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAudioReceived         = "audio_received"
	TypeTranscription         = "transcription"
	TypeError                 = "error"
	TypeStatus                = "status"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeKeepalive             = "keepalive"
	TypeClose                 = "close"
	TypeGetStatus             = "get_status"
)

// ClientMessage is a JSON control message received on a text frame.
// Binary frames carry raw audio and bypass this envelope entirely.
type ClientMessage struct {
	Type string `json:"type"`
}

// ConnectionEstablished is the first message sent after a successful upgrade.
type ConnectionEstablished struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// AudioReceived acknowledges one inbound binary frame.
type AudioReceived struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ChunkSize int    `json:"chunkSize"`
	Timestamp int64  `json:"timestamp"`
}

// Transcription carries one ordered result back to the client.
type Transcription struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"sessionId"`
	Sequence   uint64  `json:"sequence"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
	Provider   string  `json:"provider"`
	Timestamp  int64   `json:"timestamp"`
}

// ErrorMessage surfaces a per-segment or connection-level failure. One bad
// segment produces one error message; the session continues.
type ErrorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Pong answers a client ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Keepalive is sent when the outbound channel has been idle.
type Keepalive struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// SessionStatus answers a get_status control message.
type SessionStatus struct {
	Type            string `json:"type"`
	SessionID       string `json:"sessionId"`
	State           string `json:"state"`
	ChunksReceived  uint64 `json:"chunksReceived"`
	SegmentsEmitted uint64 `json:"segmentsEmitted"`
	ResultsSent     uint64 `json:"resultsSent"`
	ConnectedAt     int64  `json:"connectedAt"`
	LastActivity    int64  `json:"lastActivity"`
	Timestamp       int64  `json:"timestamp"`
}

// NewTranscription converts a pipeline result into its wire form.
func NewTranscription(r TranscriptionResult) Transcription {
	return Transcription{
		Type:       TypeTranscription,
		SessionID:  r.SessionID,
		Sequence:   r.Sequence,
		Text:       r.Text,
		Confidence: r.Confidence,
		IsFinal:    r.IsFinal,
		Provider:   r.Provider,
		Timestamp:  r.Timestamp,
	}
}
