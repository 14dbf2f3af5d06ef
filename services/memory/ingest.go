package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
	"github.com/tas-memory-service/providers"
)

const abstractSystemPrompt = `You are a memory indexing assistant. You will be given one conversation turn between a user and an assistant. Produce a one-line summary of the turn and a short list of topical header keywords (3 to 7) that someone could later search by.

Respond in exactly this format:

SUMMARY: <one line summarizing the turn>
HEADERS:
- <header 1>
- <header 2>
- <header 3>`

// IngestAgent converts conversation turns into durable pages and their
// abstract index records. It runs off the user-critical path; the facade
// owns the atomic write.
type IngestAgent struct {
	llm      providers.LLMClient
	embedder providers.EmbeddingClient
	logger   *logger.Logger
}

// NewIngestAgent creates a new ingest agent.
func NewIngestAgent(llm providers.LLMClient, embedder providers.EmbeddingClient, log *logger.Logger) *IngestAgent {
	return &IngestAgent{
		llm:      llm,
		embedder: embedder,
		logger:   log,
	}
}

// FormatPageContent renders a turn into the fixed page layout. The same
// turn always yields the same content.
func FormatPageContent(turn models.ConversationTurn) string {
	var b strings.Builder

	b.WriteString("[")
	b.WriteString(turn.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("] Conversation Turn")
	if turn.TurnNumber > 0 {
		fmt.Fprintf(&b, " %d", turn.TurnNumber)
	}
	if turn.ConversationID != "" {
		fmt.Fprintf(&b, " (conversation %s)", turn.ConversationID)
	}
	b.WriteString("\n\nUser:\n")
	b.WriteString(turn.UserMessage)
	b.WriteString("\n\nAssistant:\n")
	b.WriteString(turn.AssistantMessage)

	if len(turn.ToolCalls) > 0 {
		b.WriteString("\n\nTool Calls:\n")
		for _, call := range turn.ToolCalls {
			fmt.Fprintf(&b, "- %s(%s) -> %s\n", call.Tool, call.Arguments, call.Result)
		}
	}

	return b.String()
}

// estimateTokenCount is the rough chars/4 heuristic used for budgeting.
func estimateTokenCount(text string) int {
	return len(text) / 4
}

// CreatePage formats the turn, counts its tokens and embeds the content.
// Embedding failures degrade the page rather than losing it: the page is
// still stored and reachable through keyword search.
func (a *IngestAgent) CreatePage(ctx context.Context, turn models.ConversationTurn) (*models.Page, error) {
	content := FormatPageContent(turn)

	page := &models.Page{
		ID:         uuid.New(),
		OwnerID:    turn.OwnerID,
		Content:    content,
		TokenCount: estimateTokenCount(content),
		CreatedAt:  turn.Timestamp.UTC(),
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}

	metadata := datatypes.JSONMap{}
	for k, v := range turn.Metadata {
		metadata[k] = v
	}
	if turn.ConversationID != "" {
		metadata["conversation_id"] = turn.ConversationID
	}
	if turn.TurnNumber > 0 {
		metadata["turn_number"] = turn.TurnNumber
	}
	if len(metadata) > 0 {
		page.Metadata = metadata
	}

	embedding, err := a.embedder.Embed(ctx, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("failed to embed page content, storing without embedding",
			"owner_id", turn.OwnerID, "error", err)
	} else {
		vec := pgvector.NewVector(embedding)
		page.Embedding = &vec
	}

	return page, nil
}

// CreateAbstract asks the LLM for a summary and headers of the turn. A
// malformed or failed response still yields an abstract, with empty
// summary and headers, so the page write is never blocked on the LLM.
func (a *IngestAgent) CreateAbstract(ctx context.Context, turn models.ConversationTurn) (*models.Abstract, error) {
	abstract := &models.Abstract{
		PageID:    uuid.New(),
		OwnerID:   turn.OwnerID,
		Headers:   []string{},
		CreatedAt: time.Now().UTC(),
	}

	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: abstractSystemPrompt},
		{Role: providers.RoleUser, Content: FormatPageContent(turn)},
	}
	completion, err := a.llm.Complete(ctx, messages, providers.CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("failed to generate abstract, storing empty abstract",
			"owner_id", turn.OwnerID, "error", err)
		return abstract, nil
	}

	summary, headers := parseAbstractResponse(completion.Content)
	abstract.Summary = summary
	abstract.Headers = headers

	if summary != "" {
		embedding, err := a.embedder.Embed(ctx, summary)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("failed to embed abstract summary",
				"owner_id", turn.OwnerID, "error", err)
		} else {
			vec := pgvector.NewVector(embedding)
			abstract.SummaryEmbedding = &vec
		}
	}

	return abstract, nil
}

// parseAbstractResponse extracts the SUMMARY line and HEADERS bullets.
// Unrecognized lines are ignored; a response that matches nothing yields
// an empty summary and no headers.
func parseAbstractResponse(content string) (string, []string) {
	var summary string
	headers := []string{}
	inHeaders := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SUMMARY:"):
			summary = strings.TrimSpace(line[len("SUMMARY:"):])
			inHeaders = false
		case strings.HasPrefix(upper, "HEADERS:"):
			inHeaders = true
		case inHeaders && strings.HasPrefix(line, "-"):
			header := strings.TrimSpace(strings.TrimPrefix(line, "-"))
			if header != "" {
				headers = append(headers, header)
			}
		}
	}

	return summary, headers
}
