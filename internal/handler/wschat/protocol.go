package wschat

// inboundFrame covers every client -> server frame shape (§6 streaming wire
// protocol). Only the fields relevant to Type are populated.
type inboundFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	Content   string `json:"content,omitempty"`
	Image     string `json:"image,omitempty"`
	ImageType string `json:"image_type,omitempty"`
}

type authSuccessFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type textFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type thinkingFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type toolFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Name  string `json:"name"`
}

type completeMetadata struct {
	ToolsUsed        []string `json:"tools_used"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

type completeFrame struct {
	Type        string           `json:"type"`
	ContinuumID string           `json:"continuum_id"`
	Response    string           `json:"response"`
	Metadata    completeMetadata `json:"metadata"`
}

type shutdownFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorFrame(message string) errorFrame {
	return errorFrame{Type: "error", Message: message}
}
