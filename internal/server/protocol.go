// Package server is the channel surface: a bidirectional WebSocket protocol
// for interactive turns and remote tool execution, plus REST endpoints for
// health, metrics and session inspection.
package server

// Inbound message types (client to core).
const (
	MsgAgentChat  = "AGENT_CHAT"
	MsgToolResult = "TOOL_RESULT"
	MsgStop       = "STOP"
	MsgPing       = "PING"
)

// Outbound message types (core to client).
const (
	MsgAgentResponse = "AGENT_RESPONSE"
	MsgToolCall      = "TOOL_CALL"
	MsgStopped       = "STOPPED"
	MsgPong          = "PONG"
	MsgError         = "ERROR"
)

// ResponseStatus labels an AGENT_RESPONSE frame. PROCESSING frames are
// incremental; every other status is terminal and appears exactly once per
// turn.
type ResponseStatus string

const (
	StatusProcessing     ResponseStatus = "PROCESSING"
	StatusWaitingConfirm ResponseStatus = "WAITING_CONFIRM"
	StatusCompleted      ResponseStatus = "COMPLETED"
	StatusSuccess        ResponseStatus = "SUCCESS"
	StatusFailed         ResponseStatus = "FAILED"
	StatusError          ResponseStatus = "ERROR"
	StatusCancelled      ResponseStatus = "CANCELLED"
)

// Inbound is the union of all client-to-core frames, discriminated by Type.
type Inbound struct {
	Type string `json:"type"`

	// AGENT_CHAT
	Message     string `json:"message,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	ProjectKey  string `json:"projectKey,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`

	// TOOL_RESULT
	CallID        string `json:"callId,omitempty"`
	Success       bool   `json:"success,omitempty"`
	Result        string `json:"result,omitempty"`
	ExecutionTime int64  `json:"executionTime,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Outbound is the union of all core-to-client frames, discriminated by Type.
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`

	// AGENT_RESPONSE
	Status  ResponseStatus `json:"status,omitempty"`
	Content string         `json:"content,omitempty"`
	Process string         `json:"process,omitempty"`
	Stage   string         `json:"stage,omitempty"`

	// TOOL_CALL
	CallID   string         `json:"callId,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	Params   map[string]any `json:"params,omitempty"`

	// STOPPED
	Message string `json:"message,omitempty"`

	// PONG
	Timestamp int64 `json:"timestamp,omitempty"`

	// ERROR
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
