package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Page is the primary record of a memorized conversation turn. Content is the
// verbatim formatted text of the turn; it is indexed but never rewritten.
type Page struct {
	ID         uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID    string             `json:"owner_id" gorm:"type:text;not null;index"`
	Content    string             `json:"content" gorm:"type:text;not null"`
	TokenCount int                `json:"token_count" gorm:"not null;default:0"`
	Embedding  *pgvector.Vector   `json:"-" gorm:"type:vector"`
	Metadata   datatypes.JSONMap  `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time          `json:"created_at" gorm:"type:timestamptz;not null"`
}

// TableName overrides the gorm default pluralization.
func (Page) TableName() string { return "pages" }

// Abstract is the index-side record paired 1:1 with a page. It carries a short
// summary, a handful of header keywords, and an embedding of the summary.
type Abstract struct {
	PageID           uuid.UUID        `json:"page_id" gorm:"type:uuid;primaryKey"`
	OwnerID          string           `json:"owner_id" gorm:"type:text;not null;index"`
	Summary          string           `json:"summary" gorm:"type:text"`
	Headers          pq.StringArray   `json:"headers" gorm:"type:text[]"`
	SummaryEmbedding *pgvector.Vector `json:"-" gorm:"type:vector"`
	CreatedAt        time.Time        `json:"created_at" gorm:"type:timestamptz;not null"`
}

func (Abstract) TableName() string { return "abstracts" }

// ToolCallRecord captures one tool invocation made during a turn.
type ToolCallRecord struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
}

// ConversationTurn is the ingest input: one user/assistant exchange for one owner.
type ConversationTurn struct {
	OwnerID          string                 `json:"owner_id"`
	UserMessage      string                 `json:"user_message"`
	AssistantMessage string                 `json:"assistant_message"`
	Timestamp        time.Time              `json:"timestamp"`
	ConversationID   string                 `json:"conversation_id,omitempty"`
	TurnNumber       int                    `json:"turn_number,omitempty"`
	ToolCalls        []ToolCallRecord       `json:"tool_calls,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// OwnerStats summarizes the stored memory footprint of a single owner.
type OwnerStats struct {
	OwnerID     string     `json:"owner_id"`
	PageCount   int64      `json:"page_count"`
	TotalTokens int64      `json:"total_tokens"`
	OldestPage  *time.Time `json:"oldest_page,omitempty"`
	NewestPage  *time.Time `json:"newest_page,omitempty"`
}
