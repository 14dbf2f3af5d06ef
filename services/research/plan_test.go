package research

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tas-memory-service/models"
)

func TestParsePlanFullDirective(t *testing.T) {
	content := `STRATEGY: look for database configuration details
SEARCH_QUERY: postgresql port configuration
USE_KEYWORD: true
USE_VECTOR: true
USE_INDEX: true
TARGET_HEADERS: database, configuration
COMPLETE: false`

	plan := parsePlan(content)

	assert.Equal(t, "look for database configuration details", plan.Strategy)
	assert.Equal(t, "postgresql port configuration", plan.SearchQuery)
	assert.True(t, plan.UseKeyword)
	assert.True(t, plan.UseVector)
	assert.True(t, plan.UseIndex)
	assert.Equal(t, []string{"database", "configuration"}, plan.TargetHeaders)
	assert.False(t, plan.Complete)
}

func TestParsePlanCaseInsensitivePrefixes(t *testing.T) {
	content := `strategy: broad recall
search_query: trip plans
use_keyword: TRUE
Use_Vector: True
complete: true`

	plan := parsePlan(content)

	assert.Equal(t, "broad recall", plan.Strategy)
	assert.Equal(t, "trip plans", plan.SearchQuery)
	assert.True(t, plan.UseKeyword)
	assert.True(t, plan.UseVector)
	assert.True(t, plan.Complete)
}

func TestParsePlanMissingFieldsTakeDefaults(t *testing.T) {
	plan := parsePlan("STRATEGY: just a strategy")

	assert.Equal(t, defaultSearchQuery, plan.SearchQuery)
	assert.False(t, plan.UseKeyword)
	assert.False(t, plan.UseVector)
	assert.False(t, plan.UseIndex)
	assert.False(t, plan.Complete)
	assert.Nil(t, plan.TargetHeaders)
}

func TestParsePlanIgnoresUnknownLines(t *testing.T) {
	content := `Here is my plan for this search.
STRATEGY: targeted lookup
Some rambling text the model added.
SEARCH_QUERY: meeting notes
NONSENSE_FIELD: whatever`

	plan := parsePlan(content)

	assert.Equal(t, "targeted lookup", plan.Strategy)
	assert.Equal(t, "meeting notes", plan.SearchQuery)
}

func TestParsePlanHeadersNone(t *testing.T) {
	plan := parsePlan("TARGET_HEADERS: none")
	assert.Nil(t, plan.TargetHeaders)

	plan = parsePlan("TARGET_HEADERS: NONE")
	assert.Nil(t, plan.TargetHeaders)

	plan = parsePlan("TARGET_HEADERS: ")
	assert.Nil(t, plan.TargetHeaders)
}

func TestParsePlanHeadersTrimmed(t *testing.T) {
	plan := parsePlan("TARGET_HEADERS:  travel ,  japan ,, budget ")
	assert.Equal(t, []string{"travel", "japan", "budget"}, plan.TargetHeaders)
}

func TestParsePlanEmptySearchQueryDefaults(t *testing.T) {
	plan := parsePlan("SEARCH_QUERY:\nUSE_KEYWORD: true")
	assert.Equal(t, defaultSearchQuery, plan.SearchQuery)
}

func TestParsePlanGarbageInput(t *testing.T) {
	plan := parsePlan("complete nonsense with no structure at all")

	assert.Equal(t, defaultSearchQuery, plan.SearchQuery)
	assert.False(t, plan.Complete)
}

func TestBuildPlanPromptIncludesGatheredPages(t *testing.T) {
	query := models.ResearchQuery{OwnerID: "user-1", QueryText: "where do I live?"}

	prompt := buildPlanPrompt(query, nil, 1, 5)
	assert.Contains(t, prompt, "where do I live?")
	assert.Contains(t, prompt, "No pages gathered yet")

	pages := []models.RetrievedPage{
		{Content: "User mentioned living in Berlin.", RelevanceScore: 0.8, Retriever: "keyword_bm25"},
	}
	prompt = buildPlanPrompt(query, pages, 2, 5)
	assert.Contains(t, prompt, "Berlin")
	assert.Contains(t, prompt, "Iteration 2 of 5")
}

func TestBuildPlanPromptTruncatesLongContent(t *testing.T) {
	pages := []models.RetrievedPage{
		{Content: strings.Repeat("x", 500), RelevanceScore: 0.5, Retriever: "vector_semantic"},
	}
	prompt := buildPlanPrompt(models.ResearchQuery{QueryText: "q"}, pages, 1, 5)
	assert.NotContains(t, prompt, strings.Repeat("x", 201))
}
