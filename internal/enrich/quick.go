package enrich

import (
	"context"
	"strings"

	"github.com/lopeti/ha-rag-bridge/internal/patterns"
)

// QueryType is the QuickPatternAnalyzer's coarse intent bucket — cheaper and
// less precise than the analyzer's (C5) Intent, since this runs synchronously
// on the request path and has to stay under its latency budget.
type QueryType string

const (
	QueryStatusCheck QueryType = "status_check"
	QueryControl     QueryType = "control"
	QueryOverview    QueryType = "overview"
	QueryUnknown     QueryType = "unknown"
)

type Language string

const (
	LanguageHungarian Language = "hungarian"
	LanguageEnglish   Language = "english"
)

// QuickContext is the synchronous companion's output, available before the
// async enricher has a chance to run.
type QuickContext struct {
	DetectedDomains []string
	DetectedAreas   []string
	EntityPatterns  []string
	QueryType       QueryType
	Language        Language
	Confidence      float64
}

// QuickPatternAnalyzer is a pure keyword-table scan, no I/O, designed to stay
// well under its latency budget: it never calls the LLM gateway or a store,
// unlike the async enricher it accompanies.
type QuickPatternAnalyzer struct {
	aliases *patterns.AliasTable
}

func NewQuickPatternAnalyzer(aliases *patterns.AliasTable) *QuickPatternAnalyzer {
	return &QuickPatternAnalyzer{aliases: aliases}
}

func (q *QuickPatternAnalyzer) Analyze(ctx context.Context, utterance string) QuickContext {
	lower := strings.ToLower(utterance)

	areaTable := patterns.AreaPatterns
	if q.aliases != nil {
		areaTable = q.aliases.Areas(ctx)
	}

	var areas, domains, entityPatterns []string
	for area, words := range areaTable {
		if patterns.MatchAny(lower, words) {
			areas = append(areas, area)
		}
	}
	for domain, words := range patterns.DomainPatterns {
		if patterns.MatchAny(lower, words) {
			domains = append(domains, domain)
			entityPatterns = append(entityPatterns, domain+".*")
		}
	}
	for class, words := range patterns.SensorClasses {
		if patterns.MatchAny(lower, words) {
			if !contains(domains, "sensor") {
				domains = append(domains, "sensor")
			}
			entityPatterns = append(entityPatterns, "sensor.*_"+class)
		}
	}

	queryType := classify(lower, areas)
	lang := detectLanguage(lower)
	confidence := 0.3
	if len(areas) > 0 {
		confidence += 0.3
	}
	if len(domains) > 0 {
		confidence += 0.3
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return QuickContext{
		DetectedDomains: domains,
		DetectedAreas:   areas,
		EntityPatterns:  entityPatterns,
		QueryType:       queryType,
		Language:        lang,
		Confidence:      confidence,
	}
}

func classify(lower string, areas []string) QueryType {
	switch {
	case patterns.MatchAny(lower, patterns.ControlWords):
		return QueryControl
	case patterns.MatchAny(lower, patterns.ReadWords) && len(areas) > 0:
		return QueryStatusCheck
	case patterns.MatchAny(lower, []string{"összes", "minden", "all", "overview", "áttekintés"}):
		return QueryOverview
	case patterns.MatchAny(lower, patterns.ReadWords):
		return QueryStatusCheck
	default:
		return QueryUnknown
	}
}

func detectLanguage(lower string) Language {
	for _, r := range lower {
		if r >= 0x00E0 && r <= 0x017F { // common Hungarian accented range (á, é, í, ó, ö, ő, ú, ü, ű, ...)
			return LanguageHungarian
		}
	}
	if patterns.MatchAny(lower, []string{"kapcsold", "milyen", "hány", "mennyi", "és a"}) {
		return LanguageHungarian
	}
	return LanguageEnglish
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
