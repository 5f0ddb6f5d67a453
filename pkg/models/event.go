package models

import (
	"encoding/json"
	"time"
)

// GatewayEvent is the unit of fan-out for the event broadcaster (C7): a
// named event carrying arbitrary JSON data, always scoped to a channel.
type GatewayEvent struct {
	Event     string          `json:"event"`
	ChannelID int64           `json:"channel_id"`
	ToolName  string          `json:"tool_name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Time      time.Time       `json:"time"`
}

// Event name constants referenced across §4.7 of the specification.
const (
	EventChannelMessage            = "channel.message"
	EventAgentResponse              = "agent.response"
	EventAgentToolCall              = "agent.tool_call"
	EventToolResult                 = "tool.result"
	EventExecutionStarted           = "execution.started"
	EventExecutionThinking          = "execution.thinking"
	EventExecutionStopped           = "execution.stopped"
	EventExecutionCompleted         = "execution.completed"
	EventTaskStarted                = "task.started"
	EventTaskUpdated                = "task.updated"
	EventTaskCompleted              = "task.completed"
	EventProcessStarted             = "process.started"
	EventProcessOutput               = "process.output"
	EventProcessCompleted            = "process.completed"
	EventTxPending                  = "tx.pending"
	EventTxConfirmed                = "tx.confirmed"
	EventTxQueueConfirmationRequired = "tx.queue.confirmation_required"
	EventAIRetrying                 = "ai.retrying"
	EventChannelStarted             = "channel.started"
	EventChannelStopped             = "channel.stopped"
)

// NewEvent builds a GatewayEvent, marshaling data to JSON. Marshal failures
// fall back to an empty payload rather than panicking a hot broadcast path.
func NewEvent(name string, channelID int64, data any) GatewayEvent {
	ev := GatewayEvent{
		Event:     name,
		ChannelID: channelID,
		Time:      time.Now(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// WithTool tags a gateway event with the tool name involved.
func (e GatewayEvent) WithTool(name string) GatewayEvent {
	e.ToolName = name
	return e
}
