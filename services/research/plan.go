package research

import (
	"fmt"
	"strings"

	"github.com/tas-memory-service/models"
)

const planSystemPrompt = `You are a research planner for a long-term memory system. Given a question and the memory pages gathered so far, decide how to search next.

Respond with exactly these fields, one per line:

STRATEGY: <one line describing your approach>
SEARCH_QUERY: <the query to search with>
USE_KEYWORD: true|false
USE_VECTOR: true|false
USE_INDEX: true|false
TARGET_HEADERS: <comma-separated headers to look up, or "none">
COMPLETE: true|false

Set COMPLETE to true only when the gathered pages already answer the question.`

// defaultSearchQuery replaces an empty planner query so retrievers are
// never asked to match nothing.
const defaultSearchQuery = "general search"

// buildPlanPrompt renders the planner's user message from the question and
// the pages gathered so far.
func buildPlanPrompt(query models.ResearchQuery, gathered []models.RetrievedPage, iteration, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query.QueryText)
	fmt.Fprintf(&b, "Iteration %d of %d.\n", iteration, maxIterations)

	if len(gathered) == 0 {
		b.WriteString("No pages gathered yet.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Pages gathered so far (%d):\n", len(gathered))
	for _, page := range gathered {
		excerpt := page.Content
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		fmt.Fprintf(&b, "- [score %.2f via %s] %s\n", page.RelevanceScore, page.Retriever, excerpt)
	}
	return b.String()
}

// parsePlan reads the planner's line-oriented directive. Field prefixes are
// case-insensitive and unknown lines are ignored; missing fields keep their
// zero value.
func parsePlan(content string) models.ResearchPlan {
	plan := models.ResearchPlan{}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "STRATEGY":
			plan.Strategy = value
		case "SEARCH_QUERY":
			plan.SearchQuery = value
		case "USE_KEYWORD":
			plan.UseKeyword = parseBool(value)
		case "USE_VECTOR":
			plan.UseVector = parseBool(value)
		case "USE_INDEX":
			plan.UseIndex = parseBool(value)
		case "TARGET_HEADERS":
			plan.TargetHeaders = parseHeaderList(value)
		case "COMPLETE":
			plan.Complete = parseBool(value)
		}
	}

	if plan.SearchQuery == "" {
		plan.SearchQuery = defaultSearchQuery
	}
	return plan
}

func parseBool(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "true")
}

func parseHeaderList(value string) []string {
	if strings.EqualFold(value, "none") || value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	headers := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			headers = append(headers, part)
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
