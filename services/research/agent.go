package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
	"github.com/tas-memory-service/providers"
	"github.com/tas-memory-service/retrievers"
	"github.com/tas-memory-service/store"
)

// reflectBudgetFraction is the fill level at which reflection stops the
// loop without consulting the LLM.
const reflectBudgetFraction = 0.9

const reflectSystemPrompt = `You decide whether a memory search should continue. Answer with a single word: CONTINUE to keep searching, or DONE if the gathered pages sufficiently answer the question.`

// Capabilities are the collaborators the research agent fans out to.
type Capabilities struct {
	LLM        providers.LLMClient
	Embedder   providers.EmbeddingClient
	Store      store.PageStore
	Retrievers []retrievers.Retriever
}

// Agent runs the bounded plan/search/integrate/reflect loop that turns a
// question into a token-bounded MemoryContext.
type Agent struct {
	caps   Capabilities
	logger *logger.Logger
}

// NewAgent creates a research agent.
func NewAgent(caps Capabilities, log *logger.Logger) *Agent {
	return &Agent{caps: caps, logger: log}
}

// Research runs the loop to completion and returns the final context. It
// is defined in terms of the stream: drain it and keep the last step's
// context snapshot.
func (a *Agent) Research(ctx context.Context, query models.ResearchQuery, opts models.ResearchOptions) (*models.MemoryContext, error) {
	var last *models.ResearchStep
	for step := range a.ResearchStream(ctx, query, opts) {
		s := step
		last = &s
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if last == nil || last.CurrentContext == nil {
		return models.EmptyMemoryContext(), nil
	}
	return last.CurrentContext, nil
}

// ResearchStream runs the loop in a goroutine and emits one ResearchStep
// per phase. The channel is closed when the loop finishes or the context
// is cancelled.
func (a *Agent) ResearchStream(ctx context.Context, query models.ResearchQuery, opts models.ResearchOptions) <-chan models.ResearchStep {
	steps := make(chan models.ResearchStep)
	go func() {
		defer close(steps)
		a.run(ctx, query, opts, steps)
	}()
	return steps
}

// loopState is the mutable accumulator of one research run.
type loopState struct {
	pages       []models.RetrievedPage
	seen        map[uuid.UUID]bool
	totalTokens int
	iterations  int
	started     time.Time
}

func (s *loopState) snapshot() *models.MemoryContext {
	pages := make([]models.RetrievedPage, len(s.pages))
	copy(pages, s.pages)
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].RelevanceScore > pages[j].RelevanceScore
	})
	return &models.MemoryContext{
		Pages:               pages,
		TotalTokens:         s.totalTokens,
		IterationsPerformed: s.iterations,
		Duration:            time.Since(s.started),
	}
}

func (a *Agent) run(ctx context.Context, query models.ResearchQuery, opts models.ResearchOptions, steps chan<- models.ResearchStep) {
	state := &loopState{
		seen:    make(map[uuid.UUID]bool),
		started: time.Now(),
	}

	a.logger.Info("research started",
		"owner_id", query.OwnerID,
		"max_iterations", opts.MaxIterations,
		"max_context_tokens", opts.MaxContextTokens)

	for iteration := 1; iteration <= opts.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return
		}
		state.iterations = iteration

		// Plan
		planStart := time.Now()
		plan := a.plan(ctx, query, state, opts)
		if ctx.Err() != nil {
			return
		}
		if !emit(ctx, steps, models.ResearchStep{
			Iteration:      iteration,
			Phase:          models.PhasePlan,
			Summary:        plan.Strategy,
			Duration:       time.Since(planStart),
			Plan:           &plan,
			CurrentContext: state.snapshot(),
		}) {
			return
		}
		if plan.Complete {
			break
		}

		// Search
		searchStart := time.Now()
		results := a.search(ctx, query, plan, state, opts)
		if ctx.Err() != nil {
			return
		}
		if !emit(ctx, steps, models.ResearchStep{
			Iteration:      iteration,
			Phase:          models.PhaseSearch,
			Summary:        fmt.Sprintf("retrieved %d candidates for %q", len(results), plan.SearchQuery),
			Duration:       time.Since(searchStart),
			Results:        results,
			CurrentContext: state.snapshot(),
		}) {
			return
		}

		// Integrate
		integrateStart := time.Now()
		added := a.integrate(ctx, results, state, opts)
		if ctx.Err() != nil {
			return
		}
		if !emit(ctx, steps, models.ResearchStep{
			Iteration:      iteration,
			Phase:          models.PhaseIntegrate,
			Summary:        fmt.Sprintf("added %d pages, %d/%d tokens used", added, state.totalTokens, opts.MaxContextTokens),
			Duration:       time.Since(integrateStart),
			PagesAdded:     added,
			CurrentContext: state.snapshot(),
		}) {
			return
		}

		// Reflect
		reflectStart := time.Now()
		shouldContinue := a.reflect(ctx, query, state, opts)
		if ctx.Err() != nil {
			return
		}
		if !emit(ctx, steps, models.ResearchStep{
			Iteration:      iteration,
			Phase:          models.PhaseReflect,
			Summary:        fmt.Sprintf("continue=%t", shouldContinue),
			Duration:       time.Since(reflectStart),
			ShouldContinue: shouldContinue,
			CurrentContext: state.snapshot(),
		}) {
			return
		}
		if !shouldContinue {
			break
		}
	}

	final := state.snapshot()
	a.logger.Info("research finished",
		"owner_id", query.OwnerID,
		"pages", len(final.Pages),
		"total_tokens", final.TotalTokens,
		"iterations", final.IterationsPerformed)

	emit(ctx, steps, models.ResearchStep{
		Iteration:      state.iterations,
		Phase:          models.PhaseComplete,
		Summary:        fmt.Sprintf("research complete: %d pages, %d tokens", len(final.Pages), final.TotalTokens),
		CurrentContext: final,
	})
}

// plan asks the LLM for the next search directive. An LLM failure degrades
// to a broad keyword+vector search rather than aborting the loop.
func (a *Agent) plan(ctx context.Context, query models.ResearchQuery, state *loopState, opts models.ResearchOptions) models.ResearchPlan {
	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: planSystemPrompt},
		{Role: providers.RoleUser, Content: buildPlanPrompt(query, state.pages, state.iterations, opts.MaxIterations)},
	}
	completion, err := a.caps.LLM.Complete(ctx, messages, providers.CompletionOptions{
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		a.logger.Warn("plan generation failed, falling back to direct search",
			"owner_id", query.OwnerID, "error", err)
		return models.ResearchPlan{
			Strategy:    "direct search",
			SearchQuery: query.QueryText,
			UseKeyword:  true,
			UseVector:   true,
		}
	}
	return parsePlan(completion.Content)
}

// retrievalTask is one scheduled retriever invocation in a search fan-out.
type retrievalTask struct {
	retriever retrievers.Retriever
	query     models.RetrievalQuery
}

// search embeds the plan's query once, fans out to the toggled retrievers
// concurrently, and merges the results first-occurrence-wins per page id,
// sorted by score descending.
func (a *Agent) search(ctx context.Context, query models.ResearchQuery, plan models.ResearchPlan, state *loopState, opts models.ResearchOptions) []models.RetrievalResult {
	exclude := make([]uuid.UUID, 0, len(state.seen))
	for id := range state.seen {
		exclude = append(exclude, id)
	}

	base := models.RetrievalQuery{
		OwnerID:        query.OwnerID,
		QueryText:      plan.SearchQuery,
		MaxResults:     opts.MaxPagesPerIteration,
		MinScore:       opts.MinRelevanceScore,
		ExcludePageIDs: exclude,
	}

	useKeyword, useVector, useIndex := plan.UseKeyword, plan.UseVector, plan.UseIndex
	if !useKeyword && !useVector && !useIndex {
		useKeyword, useVector = true, true
	}

	if useVector {
		embedding, err := a.caps.Embedder.Embed(ctx, plan.SearchQuery)
		if err != nil {
			a.logger.Warn("failed to embed search query, skipping vector retrieval",
				"owner_id", query.OwnerID, "error", err)
			useVector = false
		} else {
			base.QueryEmbedding = embedding
		}
	}

	var tasks []retrievalTask
	if useKeyword {
		if r := a.findRetriever("keyword_bm25"); r != nil {
			tasks = append(tasks, retrievalTask{retriever: r, query: base})
		}
	}
	if useVector {
		if r := a.findRetriever("vector_semantic"); r != nil {
			tasks = append(tasks, retrievalTask{retriever: r, query: base})
		}
	}
	if useIndex {
		if r := a.findRetriever("page_index"); r != nil {
			for _, header := range plan.TargetHeaders {
				headerQuery := base
				headerQuery.QueryText = header
				tasks = append(tasks, retrievalTask{retriever: r, query: headerQuery})
			}
		}
	}

	// Results are collected per task slot so the merge order is stable
	// regardless of goroutine scheduling.
	collected := make([][]models.RetrievalResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(slot int, task retrievalTask) {
			defer wg.Done()
			results, err := task.retriever.Retrieve(ctx, task.query)
			if err != nil {
				a.logger.Warn("retriever failed during fan-out",
					"retriever", task.retriever.Name(), "owner_id", task.query.OwnerID, "error", err)
				return
			}
			collected[slot] = results
		}(i, task)
	}
	wg.Wait()

	merged := make([]models.RetrievalResult, 0)
	seen := make(map[uuid.UUID]bool)
	for _, results := range collected {
		for _, result := range results {
			if seen[result.PageID] {
				continue
			}
			seen[result.PageID] = true
			merged = append(merged, result)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// integrate hydrates the new candidates and admits them greedily, in
// merged order, until the next page would overflow the token budget.
func (a *Agent) integrate(ctx context.Context, results []models.RetrievalResult, state *loopState, opts models.ResearchOptions) int {
	fresh := make([]models.RetrievalResult, 0, len(results))
	ids := make([]uuid.UUID, 0, len(results))
	for _, result := range results {
		if state.seen[result.PageID] {
			continue
		}
		fresh = append(fresh, result)
		ids = append(ids, result.PageID)
	}
	if len(fresh) == 0 {
		return 0
	}

	pages, err := a.caps.Store.GetPages(ctx, ids)
	if err != nil {
		a.logger.Warn("failed to hydrate pages", "error", err)
		return 0
	}
	byID := make(map[uuid.UUID]*models.Page, len(pages))
	for i := range pages {
		byID[pages[i].ID] = &pages[i]
	}

	added := 0
	for _, result := range fresh {
		page, ok := byID[result.PageID]
		if !ok {
			// Deleted between retrieval and hydration.
			continue
		}
		if state.totalTokens+page.TokenCount > opts.MaxContextTokens {
			break
		}
		state.pages = append(state.pages, models.RetrievedPage{
			PageID:         page.ID,
			Content:        page.Content,
			TokenCount:     page.TokenCount,
			RelevanceScore: result.Score,
			Retriever:      result.Retriever,
			CreatedAt:      page.CreatedAt,
		})
		state.seen[page.ID] = true
		state.totalTokens += page.TokenCount
		added++
	}
	return added
}

// reflect decides whether another iteration is worthwhile. A nearly full
// budget is a hard stop; an empty context always continues; otherwise a
// short LLM call makes the call.
func (a *Agent) reflect(ctx context.Context, query models.ResearchQuery, state *loopState, opts models.ResearchOptions) bool {
	if float64(state.totalTokens) >= reflectBudgetFraction*float64(opts.MaxContextTokens) {
		return false
	}
	if len(state.pages) == 0 {
		return true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query.QueryText)
	fmt.Fprintf(&b, "Gathered %d pages (%d tokens of %d budget).\n",
		len(state.pages), state.totalTokens, opts.MaxContextTokens)
	for _, page := range state.pages {
		excerpt := page.Content
		if len(excerpt) > 120 {
			excerpt = excerpt[:120]
		}
		fmt.Fprintf(&b, "- %s\n", excerpt)
	}

	completion, err := a.caps.LLM.Complete(ctx, []providers.Message{
		{Role: providers.RoleSystem, Content: reflectSystemPrompt},
		{Role: providers.RoleUser, Content: b.String()},
	}, providers.CompletionOptions{
		Temperature: 0.1,
		MaxTokens:   50,
	})
	if err != nil {
		a.logger.Warn("reflection failed, stopping research",
			"owner_id", query.OwnerID, "error", err)
		return false
	}
	return strings.Contains(strings.ToUpper(completion.Content), "CONTINUE")
}

func (a *Agent) findRetriever(name string) retrievers.Retriever {
	for _, r := range a.caps.Retrievers {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// emit sends a step unless the context is cancelled first.
func emit(ctx context.Context, steps chan<- models.ResearchStep, step models.ResearchStep) bool {
	select {
	case steps <- step:
		return true
	case <-ctx.Done():
		return false
	}
}
