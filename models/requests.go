package models

import (
	"time"

	"github.com/google/uuid"
)

// MemorizeRequest asks the service to ingest one conversation turn.
type MemorizeRequest struct {
	OwnerID          string                 `json:"owner_id" binding:"required"`
	UserMessage      string                 `json:"user_message" binding:"required"`
	AssistantMessage string                 `json:"assistant_message" binding:"required"`
	Timestamp        *time.Time             `json:"timestamp,omitempty"`
	ConversationID   string                 `json:"conversation_id,omitempty"`
	TurnNumber       int                    `json:"turn_number,omitempty"`
	ToolCalls        []ToolCallRecord       `json:"tool_calls,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Turn converts the request into the ingest agent's input shape.
func (r *MemorizeRequest) Turn() ConversationTurn {
	ts := time.Now().UTC()
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return ConversationTurn{
		OwnerID:          r.OwnerID,
		UserMessage:      r.UserMessage,
		AssistantMessage: r.AssistantMessage,
		Timestamp:        ts,
		ConversationID:   r.ConversationID,
		TurnNumber:       r.TurnNumber,
		ToolCalls:        r.ToolCalls,
		Metadata:         r.Metadata,
	}
}

// ResearchRequest asks the service to assemble a memory context for a query.
// Zero-valued option fields fall back to the loop defaults.
type ResearchRequest struct {
	OwnerID              string  `json:"owner_id" binding:"required"`
	Query                string  `json:"query" binding:"required"`
	MaxIterations        int     `json:"max_iterations,omitempty"`
	MaxPagesPerIteration int     `json:"max_pages_per_iteration,omitempty"`
	MaxContextTokens     int     `json:"max_context_tokens,omitempty"`
	MinRelevanceScore    float64 `json:"min_relevance_score,omitempty"`
}

// Options resolves the request's overrides against the given defaults.
func (r *ResearchRequest) Options(defaults ResearchOptions) ResearchOptions {
	opts := defaults
	if r.MaxIterations > 0 {
		opts.MaxIterations = r.MaxIterations
	}
	if r.MaxPagesPerIteration > 0 {
		opts.MaxPagesPerIteration = r.MaxPagesPerIteration
	}
	if r.MaxContextTokens > 0 {
		opts.MaxContextTokens = r.MaxContextTokens
	}
	if r.MinRelevanceScore > 0 {
		opts.MinRelevanceScore = r.MinRelevanceScore
	}
	return opts
}

// ForgetRequest asks the service to delete memories. Exactly one of All,
// PageIDs, or Before is expected; they are checked in that order.
type ForgetRequest struct {
	OwnerID string      `json:"owner_id" binding:"required"`
	All     bool        `json:"all,omitempty"`
	PageIDs []uuid.UUID `json:"page_ids,omitempty"`
	Before  *time.Time  `json:"before,omitempty"`
}

// MemorizeResponse reports the page an ingest produced.
type MemorizeResponse struct {
	PageID  uuid.UUID `json:"page_id"`
	OwnerID string    `json:"owner_id"`
}

// ForgetResponse reports how many pages a forget call removed.
type ForgetResponse struct {
	PagesDeleted int64 `json:"pages_deleted"`
}
