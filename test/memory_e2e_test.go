package test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
	"github.com/tas-memory-service/providers"
	"github.com/tas-memory-service/retrievers"
	"github.com/tas-memory-service/services"
	"github.com/tas-memory-service/services/impl"
	"github.com/tas-memory-service/services/memory"
	"github.com/tas-memory-service/services/research"
	"github.com/tas-memory-service/store"
)

const e2eDims = 3

// scriptedLLM answers abstract prompts and plan prompts with canned
// content so the full pipeline runs without a model provider.
type scriptedLLM struct {
	mu       sync.Mutex
	abstract string
	plan     string
}

func (f *scriptedLLM) Complete(ctx context.Context, messages []providers.Message, opts providers.CompletionOptions) (*providers.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// The planner and reflector run at low max tokens; the abstract call
	// is the only one allowed 1000.
	if opts.MaxTokens == 1000 {
		return &providers.Completion{Content: f.abstract}, nil
	}
	if opts.MaxTokens == 50 {
		return &providers.Completion{Content: "DONE"}, nil
	}
	return &providers.Completion{Content: f.plan}, nil
}

func (f *scriptedLLM) CompleteStream(ctx context.Context, messages []providers.Message, opts providers.CompletionOptions, onDelta func(string)) (*providers.Completion, error) {
	return f.Complete(ctx, messages, opts)
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimensions() int { return e2eDims }

func setupService(t *testing.T, llm providers.LLMClient) services.MemoryService {
	t.Helper()

	dsn := os.Getenv("MEMORY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping end-to-end test: MEMORY_TEST_DB_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db, e2eDims))

	t.Cleanup(func() {
		db.Exec(`DELETE FROM pages WHERE owner_id LIKE 'e2e-%'`)
	})

	log := logger.NewNop()
	pageStore := store.NewPageStore(db)
	ingest := memory.NewIngestAgent(llm, unitEmbedder{}, log)
	agent := research.NewAgent(research.Capabilities{
		LLM:      llm,
		Embedder: unitEmbedder{},
		Store:    pageStore,
		Retrievers: []retrievers.Retriever{
			retrievers.NewKeywordRetriever(db, log),
			retrievers.NewVectorRetriever(db, log),
			retrievers.NewHeaderIndexRetriever(db, log),
		},
	}, log)
	cache := impl.NewResearchCacheWithRedis(nil, time.Minute)

	return impl.NewMemoryService(ingest, agent, pageStore, cache, models.DefaultResearchOptions(), log)
}

func e2eOwner() string {
	return fmt.Sprintf("e2e-%s", uuid.New().String()[:8])
}

func TestMemorizeThenResearchRoundTrip(t *testing.T) {
	llm := &scriptedLLM{
		abstract: "SUMMARY: User's staging database runs on port 5433.\nHEADERS:\n- database\n- staging\n- configuration",
		plan:     "STRATEGY: keyword search\nSEARCH_QUERY: staging database port\nUSE_KEYWORD: true",
	}
	svc := setupService(t, llm)
	owner := e2eOwner()

	resp, err := svc.Memorize(context.Background(), models.MemorizeRequest{
		OwnerID:          owner,
		UserMessage:      "Remember that the staging database runs on port 5433.",
		AssistantMessage: "Got it, staging database on port 5433.",
	})
	require.NoError(t, err)

	result, err := svc.Research(context.Background(), models.ResearchRequest{
		OwnerID: owner,
		Query:   "which port does the staging database use?",
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Pages)
	assert.Equal(t, resp.PageID, result.Pages[0].PageID)
	assert.Contains(t, result.Pages[0].Content, "port 5433")
	assert.Greater(t, result.TotalTokens, 0)
}

func TestResearchViaHeaderIndex(t *testing.T) {
	llm := &scriptedLLM{
		abstract: "SUMMARY: Trip planning for Japan.\nHEADERS:\n- Japan Travel\n- autumn",
		plan:     "STRATEGY: header lookup\nSEARCH_QUERY: japan\nUSE_INDEX: true\nTARGET_HEADERS: japan",
	}
	svc := setupService(t, llm)
	owner := e2eOwner()

	_, err := svc.Memorize(context.Background(), models.MemorizeRequest{
		OwnerID:          owner,
		UserMessage:      "I'm planning a trip to Japan in November.",
		AssistantMessage: "November is great for autumn foliage.",
	})
	require.NoError(t, err)

	result, err := svc.Research(context.Background(), models.ResearchRequest{
		OwnerID: owner,
		Query:   "what trips am I planning?",
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Pages)
	assert.Contains(t, result.Pages[0].Content, "Japan")
}

func TestResearchDoesNotCrossOwners(t *testing.T) {
	llm := &scriptedLLM{
		abstract: "SUMMARY: s\nHEADERS:\n- h",
		plan:     "STRATEGY: keyword\nSEARCH_QUERY: secret project\nUSE_KEYWORD: true",
	}
	svc := setupService(t, llm)
	ownerA := e2eOwner()
	ownerB := e2eOwner()

	_, err := svc.Memorize(context.Background(), models.MemorizeRequest{
		OwnerID:          ownerA,
		UserMessage:      "The secret project launches in March.",
		AssistantMessage: "Understood.",
	})
	require.NoError(t, err)

	result, err := svc.Research(context.Background(), models.ResearchRequest{
		OwnerID: ownerB,
		Query:   "when does the secret project launch?",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Pages)
}

func TestForgetAllRemovesRecall(t *testing.T) {
	llm := &scriptedLLM{
		abstract: "SUMMARY: s\nHEADERS:\n- h",
		plan:     "STRATEGY: keyword\nSEARCH_QUERY: favorite color\nUSE_KEYWORD: true",
	}
	svc := setupService(t, llm)
	owner := e2eOwner()

	_, err := svc.Memorize(context.Background(), models.MemorizeRequest{
		OwnerID:          owner,
		UserMessage:      "My favorite color is teal.",
		AssistantMessage: "Teal it is.",
	})
	require.NoError(t, err)

	forgot, err := svc.Forget(context.Background(), models.ForgetRequest{OwnerID: owner, All: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), forgot.PagesDeleted)

	result, err := svc.Research(context.Background(), models.ResearchRequest{
		OwnerID: owner,
		Query:   "what is my favorite color?",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Pages)

	stats, err := svc.Stats(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PageCount)
}

func TestResearchStreamOverRealStore(t *testing.T) {
	llm := &scriptedLLM{
		abstract: "SUMMARY: s\nHEADERS:\n- h",
		plan:     "STRATEGY: keyword\nSEARCH_QUERY: meeting notes\nUSE_KEYWORD: true",
	}
	svc := setupService(t, llm)
	owner := e2eOwner()

	_, err := svc.Memorize(context.Background(), models.MemorizeRequest{
		OwnerID:          owner,
		UserMessage:      "Meeting notes: ship the beta next week.",
		AssistantMessage: "Noted, beta ships next week.",
	})
	require.NoError(t, err)

	var phases []models.ResearchPhase
	var last models.ResearchStep
	for step := range svc.ResearchStream(context.Background(), models.ResearchRequest{
		OwnerID: owner,
		Query:   "when does the beta ship?",
	}) {
		phases = append(phases, step.Phase)
		last = step
	}

	require.NotEmpty(t, phases)
	assert.Equal(t, models.PhasePlan, phases[0])
	assert.Equal(t, models.PhaseComplete, phases[len(phases)-1])
	require.NotNil(t, last.CurrentContext)
	assert.NotEmpty(t, last.CurrentContext.Pages)
}
