package models

import (
	"time"

	"github.com/google/uuid"
)

// RetrievalQuery is the uniform input contract for all retrievers.
type RetrievalQuery struct {
	OwnerID        string      `json:"owner_id"`
	QueryText      string      `json:"query_text"`
	QueryEmbedding []float32   `json:"query_embedding,omitempty"`
	MaxResults     int         `json:"max_results"`
	MinScore       float64     `json:"min_score"`
	ExcludePageIDs []uuid.UUID `json:"exclude_page_ids,omitempty"`
}

// RetrievalResult is the uniform output contract for all retrievers.
// Score is normalized so that higher is always better within a request.
type RetrievalResult struct {
	PageID        uuid.UUID `json:"page_id"`
	Score         float64   `json:"score"`
	Retriever     string    `json:"retriever"`
	MatchedHeader string    `json:"matched_header,omitempty"`
	Snippet       string    `json:"snippet,omitempty"`
}

// RetrievedPage is a hydrated page admitted into a research context.
type RetrievedPage struct {
	PageID         uuid.UUID `json:"page_id"`
	Content        string    `json:"content"`
	TokenCount     int       `json:"token_count"`
	RelevanceScore float64   `json:"relevance_score"`
	Retriever      string    `json:"retriever"`
	CreatedAt      time.Time `json:"created_at"`
}

// ResearchOptions bound the research loop in iterations, pages, and tokens.
type ResearchOptions struct {
	MaxIterations        int     `json:"max_iterations"`
	MaxPagesPerIteration int     `json:"max_pages_per_iteration"`
	MaxContextTokens     int     `json:"max_context_tokens"`
	MinRelevanceScore    float64 `json:"min_relevance_score"`
}

// DefaultResearchOptions returns the standard loop bounds.
func DefaultResearchOptions() ResearchOptions {
	return ResearchOptions{
		MaxIterations:        5,
		MaxPagesPerIteration: 10,
		MaxContextTokens:     8000,
		MinRelevanceScore:    0.3,
	}
}

// ResearchQuery is the recall input: an owner-scoped free-text question.
type ResearchQuery struct {
	OwnerID   string `json:"owner_id"`
	QueryText string `json:"query_text"`
}

// MemoryContext is the immutable bundle a research call returns: pages ordered
// by relevance, bounded by the token budget.
type MemoryContext struct {
	Pages               []RetrievedPage `json:"pages"`
	TotalTokens         int             `json:"total_tokens"`
	IterationsPerformed int             `json:"iterations_performed"`
	Duration            time.Duration   `json:"duration"`
}

// EmptyMemoryContext is returned when a research call produced no steps.
func EmptyMemoryContext() *MemoryContext {
	return &MemoryContext{Pages: []RetrievedPage{}}
}

// ResearchPhase tags one phase of a research iteration.
type ResearchPhase string

const (
	PhasePlan      ResearchPhase = "plan"
	PhaseSearch    ResearchPhase = "search"
	PhaseIntegrate ResearchPhase = "integrate"
	PhaseReflect   ResearchPhase = "reflect"
	PhaseComplete  ResearchPhase = "complete"
)

// ResearchStep is one emitted event on the streaming research entry point.
type ResearchStep struct {
	Iteration      int               `json:"iteration"`
	Phase          ResearchPhase     `json:"phase"`
	Summary        string            `json:"summary"`
	Duration       time.Duration     `json:"duration"`
	Plan           *ResearchPlan     `json:"plan,omitempty"`
	Results        []RetrievalResult `json:"results,omitempty"`
	PagesAdded     int               `json:"pages_added,omitempty"`
	ShouldContinue bool              `json:"should_continue,omitempty"`
	CurrentContext *MemoryContext    `json:"current_context,omitempty"`
}

// ResearchPlan is the parsed form of the planner's line-oriented directive.
type ResearchPlan struct {
	Strategy      string   `json:"strategy"`
	SearchQuery   string   `json:"search_query"`
	UseKeyword    bool     `json:"use_keyword"`
	UseVector     bool     `json:"use_vector"`
	UseIndex      bool     `json:"use_index"`
	TargetHeaders []string `json:"target_headers,omitempty"`
	Complete      bool     `json:"complete"`
}
