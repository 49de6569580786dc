// Package session owns the Session/Message/Part model: an append-only stream
// of typed events per assistant turn, the per-part state machines, and the
// per-project file-backed session store.
package session

import (
	"fmt"
	"time"
)

// Status is the coarse session state.
type Status string

const (
	StatusIdle Status = "IDLE"
	StatusBusy Status = "BUSY"
	// StatusRetry is a transient observational label while the agent loop is
	// backing off from an LLM failure; it never gates admission.
	StatusRetry Status = "RETRY"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// PartType is the variant tag of a part.
type PartType string

const (
	PartText      PartType = "TEXT"
	PartReasoning PartType = "REASONING"
	PartTool      PartType = "TOOL"
	PartGoal      PartType = "GOAL"
	PartProgress  PartType = "PROGRESS"
	PartTodo      PartType = "TODO"
	PartUser      PartType = "USER"
)

// ToolState is the execution state of a TOOL part.
type ToolState string

const (
	ToolPending   ToolState = "PENDING"
	ToolRunning   ToolState = "RUNNING"
	ToolCompleted ToolState = "COMPLETED"
	ToolError     ToolState = "ERROR"
)

// ItemStatus is shared by GOAL parts and TODO items.
type ItemStatus string

const (
	ItemPending    ItemStatus = "PENDING"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemCancelled  ItemStatus = "CANCELLED"
)

// TodoItem is one entry of a TODO part.
type TodoItem struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  ItemStatus `json:"status"`
}

// Part is one typed event in an assistant message's output stream. The shared
// header is always populated; variant payload fields depend on Type.
type Part struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	SessionID   string    `json:"session_id"`
	Type        PartType  `json:"type"`
	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`

	// TEXT / REASONING / USER
	Text string `json:"text,omitempty"`

	// TOOL
	ToolName   string         `json:"tool_name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	CallID     string         `json:"call_id,omitempty"`
	State      ToolState      `json:"state,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content,omitempty"`

	// GOAL
	Description string     `json:"description,omitempty"`
	GoalStatus  ItemStatus `json:"goal_status,omitempty"`

	// PROGRESS
	CurrentStep int    `json:"current_step,omitempty"`
	TotalSteps  int    `json:"total_steps,omitempty"`
	StepName    string `json:"step_name,omitempty"`

	// TODO
	Items []TodoItem `json:"items,omitempty"`
}

// Message is one turn in a session.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Parts       []*Part   `json:"parts"`
	CreatedTime time.Time `json:"created_time"`
}

// Session is the durable conversation record for one project.
type Session struct {
	ID             string     `json:"id"`
	ProjectKey     string     `json:"project_key"`
	Messages       []*Message `json:"messages"`
	Status         Status     `json:"status"`
	CreatedTime    time.Time  `json:"created_time"`
	UpdatedTime    time.Time  `json:"updated_time"`
	UserIP         string     `json:"user_ip,omitempty"`
	UserName       string     `json:"user_name,omitempty"`
	LastCommitTime *time.Time `json:"last_commit_time,omitempty"`
}

// newPart fills the shared header for a part scoped to one message.
func newPart(partType PartType, partID, messageID, sessionID string) *Part {
	now := time.Now()
	return &Part{
		ID:          partID,
		MessageID:   messageID,
		SessionID:   sessionID,
		Type:        partType,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

// NewTextPart creates a TEXT part.
func NewTextPart(partID, messageID, sessionID, text string) *Part {
	part := newPart(PartText, partID, messageID, sessionID)
	part.Text = text
	return part
}

// NewReasoningPart creates a REASONING part (hidden model-internal thought).
func NewReasoningPart(partID, messageID, sessionID, text string) *Part {
	part := newPart(PartReasoning, partID, messageID, sessionID)
	part.Text = text
	return part
}

// NewUserPart creates a USER echo part.
func NewUserPart(partID, messageID, sessionID, text string) *Part {
	part := newPart(PartUser, partID, messageID, sessionID)
	part.Text = text
	return part
}

// NewToolPart creates a TOOL part in PENDING state.
func NewToolPart(partID, messageID, sessionID, callID, toolName string, parameters map[string]any) *Part {
	part := newPart(PartTool, partID, messageID, sessionID)
	part.ToolName = toolName
	part.Parameters = parameters
	part.CallID = callID
	part.State = ToolPending
	return part
}

// NewGoalPart creates a GOAL part.
func NewGoalPart(partID, messageID, sessionID, title, description string) *Part {
	part := newPart(PartGoal, partID, messageID, sessionID)
	part.Title = title
	part.Description = description
	part.GoalStatus = ItemPending
	return part
}

// NewProgressPart creates a PROGRESS part.
func NewProgressPart(partID, messageID, sessionID string, current, total int, stepName string) *Part {
	part := newPart(PartProgress, partID, messageID, sessionID)
	part.CurrentStep = current
	part.TotalSteps = total
	part.StepName = stepName
	return part
}

// NewTodoPart creates a TODO part.
func NewTodoPart(partID, messageID, sessionID string, items []TodoItem) *Part {
	part := newPart(PartTodo, partID, messageID, sessionID)
	part.Items = items
	return part
}

// validToolTransitions encodes the PENDING → RUNNING → (COMPLETED|ERROR)
// state machine. No other edges exist.
var validToolTransitions = map[ToolState][]ToolState{
	ToolPending: {ToolRunning},
	ToolRunning: {ToolCompleted, ToolError},
}

// TransitionTool advances a TOOL part's state, bumping UpdatedTime. Result and
// errMsg apply only to terminal states.
func (p *Part) TransitionTool(next ToolState, result, errMsg string) error {
	if p.Type != PartTool {
		return fmt.Errorf("part %s is %s, not TOOL", p.ID, p.Type)
	}
	allowed := false
	for _, candidate := range validToolTransitions[p.State] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid tool state transition %s -> %s for part %s", p.State, next, p.ID)
	}
	p.State = next
	switch next {
	case ToolCompleted:
		p.Result = result
	case ToolError:
		p.Error = errMsg
	}
	p.UpdatedTime = time.Now()
	return nil
}

// Terminal reports whether the TOOL part reached a final state.
func (p *Part) Terminal() bool {
	return p.Type == PartTool && (p.State == ToolCompleted || p.State == ToolError)
}

// Clone returns a shallow-safe copy so observers cannot mutate stored parts.
func (p *Part) Clone() *Part {
	clone := *p
	if p.Parameters != nil {
		params := make(map[string]any, len(p.Parameters))
		for k, v := range p.Parameters {
			params[k] = v
		}
		clone.Parameters = params
	}
	if p.Items != nil {
		clone.Items = append([]TodoItem(nil), p.Items...)
	}
	return &clone
}

// NewMessage creates an empty message owned by a session.
func NewMessage(messageID, sessionID string, role Role) *Message {
	return &Message{
		ID:          messageID,
		SessionID:   sessionID,
		Role:        role,
		Parts:       []*Part{},
		CreatedTime: time.Now(),
	}
}

// AppendPart appends a part, rejecting mismatched ownership.
func (m *Message) AppendPart(part *Part) error {
	if part.MessageID != m.ID || part.SessionID != m.SessionID {
		return fmt.Errorf("part %s does not belong to message %s", part.ID, m.ID)
	}
	m.Parts = append(m.Parts, part)
	return nil
}

// TerminalPart returns the final TEXT part of an assistant message, or nil.
func (m *Message) TerminalPart() *Part {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if m.Parts[i].Type == PartText && m.Parts[i].Text != "" {
			return m.Parts[i]
		}
	}
	return nil
}

// FindPart returns the part with the given id, or nil.
func (m *Message) FindPart(partID string) *Part {
	for _, part := range m.Parts {
		if part.ID == partID {
			return part
		}
	}
	return nil
}
