// Package format implements C13: renders the reranked entity set into the
// prompt text handed to the downstream LLM, picking one of five layouts per
// §4.9, grounded on ha_rag_bridge's format_context_for_llm.
package format

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lopeti/ha-rag-bridge/internal/memory"
	"github.com/lopeti/ha-rag-bridge/internal/patterns"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
	"github.com/lopeti/ha-rag-bridge/internal/state"
	"github.com/lopeti/ha-rag-bridge/internal/store"
)

const personaLine = "Te egy okosotthon-asszisztens vagy. Az alábbi eszközök állapota alapján válaszolj a felhasználó kérdésére."

// Strategy is the selected layout (§4.9).
type Strategy string

const (
	StrategyCompact       Strategy = "compact"
	StrategyGroupedByArea Strategy = "grouped_by_area"
	StrategyTLDR          Strategy = "tldr"
	StrategyHierarchical  Strategy = "hierarchical"
	StrategyDetailed      Strategy = "detailed"
)

// Input is everything the formatter needs beyond the entity set itself.
type Input struct {
	Primary        []rerank.Ranked
	Related        []rerank.Ranked
	Scope          scope.Scope
	AreasMentioned map[string]bool
	IsFollowUp     bool
	MemoryEntities []memory.MemoryEntity
	ForcedStrategy Strategy // set by the workflow engine's retry/force-formatter path; empty means auto-select
}

// Output is the rendered prompt plus which strategy produced it (the
// workflow's context_formatting node checks this against its retry rule).
type Output struct {
	Text     string
	Strategy Strategy
}

// Formatter renders an Input into a prompt, fetching current sensor values
// through the C2 state cache and manual hints through the graph store.
type Formatter struct {
	states  *state.Cache
	graph   store.GraphDB
	search  store.FullTextSearch
	vectors store.VectorStore
	aliases *patterns.AliasTable
}

func New(states *state.Cache, graph store.GraphDB, search store.FullTextSearch, vectors store.VectorStore, aliases *patterns.AliasTable) *Formatter {
	return &Formatter{states: states, graph: graph, search: search, vectors: vectors, aliases: aliases}
}

// Format implements the §4.9 contract.
func (f *Formatter) Format(ctx context.Context, in Input) Output {
	strategy := in.ForcedStrategy
	if strategy == "" {
		strategy = selectStrategy(in)
	}

	var body string
	switch strategy {
	case StrategyCompact:
		body = f.renderCompact(ctx, in)
	case StrategyGroupedByArea:
		body = f.renderGroupedByArea(ctx, in)
	case StrategyTLDR:
		body = f.renderTLDR(ctx, in)
	case StrategyHierarchical:
		body = f.renderHierarchical(ctx, in)
	default:
		strategy = StrategyDetailed
		body = f.renderDetailed(ctx, in)
	}

	text := personaLine + "\n\n" + body
	if hint := f.manualHint(ctx, in); hint != "" {
		text += "\n\n" + hint
	}
	return Output{Text: text, Strategy: strategy}
}

func selectStrategy(in Input) Strategy {
	total := len(in.Primary) + len(in.Related)
	areaCount := len(in.AreasMentioned)

	switch {
	case in.IsFollowUp && len(in.MemoryEntities) > 0:
		return StrategyHierarchical
	case total > 8 || in.Scope == scope.Micro:
		return StrategyCompact
	case areaCount == 1:
		return StrategyGroupedByArea
	case areaCount >= 2 || (in.Scope == scope.Overview && total > 6):
		return StrategyTLDR
	default:
		return StrategyDetailed
	}
}

func (f *Formatter) renderCompact(ctx context.Context, in Input) string {
	all := append(append([]rerank.Ranked{}, in.Primary...), in.Related...)
	parts := make([]string, 0, len(all))
	for _, e := range all {
		parts = append(parts, fmt.Sprintf("%s [%s]: %s", cleanName(e), f.areaDisplay(e.Area), f.valueFor(ctx, e, false)))
	}
	return strings.Join(parts, " | ")
}

func (f *Formatter) renderGroupedByArea(ctx context.Context, in Input) string {
	byArea := map[string][]string{}
	primarySet := map[string]bool{}
	for _, e := range in.Primary {
		primarySet[e.EntityID] = true
	}
	all := append(append([]rerank.Ranked{}, in.Primary...), in.Related...)
	var areas []string
	for _, e := range all {
		tag := "[R]"
		if primarySet[e.EntityID] {
			tag = "[P]"
		}
		line := fmt.Sprintf("%s %s: %s", tag, cleanName(e), f.valueFor(ctx, e, primarySet[e.EntityID]))
		if _, ok := byArea[e.Area]; !ok {
			areas = append(areas, e.Area)
		}
		byArea[e.Area] = append(byArea[e.Area], line)
	}
	sort.Strings(areas)

	var sb strings.Builder
	for _, area := range areas {
		fmt.Fprintf(&sb, "## %s\n", f.areaDisplay(area))
		for _, line := range byArea[area] {
			sb.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) renderTLDR(ctx context.Context, in Input) string {
	detailed := f.renderDetailed(ctx, in)

	counts := map[string]int{}
	var areas []string
	all := append(append([]rerank.Ranked{}, in.Primary...), in.Related...)
	for _, e := range all {
		if _, ok := counts[e.Area]; !ok {
			areas = append(areas, e.Area)
		}
		counts[e.Area]++
	}
	sort.Strings(areas)

	parts := make([]string, 0, len(areas))
	for _, area := range areas {
		parts = append(parts, fmt.Sprintf("%s(%d entities)", f.areaDisplay(area), counts[area]))
	}
	return detailed + "\n\nTL;DR: " + strings.Join(parts, ", ")
}

func (f *Formatter) renderHierarchical(ctx context.Context, in Input) string {
	var sb strings.Builder
	sb.WriteString("## Primary\n")
	for _, e := range in.Primary {
		fmt.Fprintf(&sb, "%s [%s]: %s\n", cleanName(e), f.areaDisplay(e.Area), f.valueFor(ctx, e, true))
	}
	sb.WriteString("\n## Secondary\n")
	for _, e := range in.Related {
		fmt.Fprintf(&sb, "%s [%s]: %s\n", cleanName(e), f.areaDisplay(e.Area), f.valueFor(ctx, e, false))
	}
	sb.WriteString("\n## Previous\n")
	for _, m := range in.MemoryEntities {
		fmt.Fprintf(&sb, "%s [%s]\n", m.EntityID, f.areaDisplay(m.Area))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) renderDetailed(ctx context.Context, in Input) string {
	var sb strings.Builder

	label := "Primary entity"
	if len(in.Primary) != 1 {
		label = "Primary entities"
	}
	fmt.Fprintf(&sb, "## %s\n", label)
	for _, e := range in.Primary {
		fmt.Fprintf(&sb, "%s [%s]: %s\n", cleanName(e), f.areaDisplay(e.Area), f.valueFor(ctx, e, true))
	}

	sb.WriteString("\n## Related entities\n")
	for _, e := range in.Related {
		fmt.Fprintf(&sb, "%s [%s]: %s\n", cleanName(e), f.areaDisplay(e.Area), f.valueFor(ctx, e, false))
	}

	sb.WriteString("\nAreas: " + strings.Join(f.areaList(in), ", "))
	return sb.String()
}

func (f *Formatter) areaList(in Input) []string {
	seen := map[string]bool{}
	var out []string
	all := append(append([]rerank.Ranked{}, in.Primary...), in.Related...)
	for _, e := range all {
		if e.Area == "" || seen[e.Area] {
			continue
		}
		seen[e.Area] = true
		out = append(out, f.areaDisplay(e.Area))
	}
	sort.Strings(out)
	return out
}

// valueFor fetches the current sensor reading through C2: a fresh read for
// primary entities, a cached read otherwise (§4.9).
func (f *Formatter) valueFor(ctx context.Context, e rerank.Ranked, primary bool) string {
	if f.states == nil {
		if e.CurrentValue != "" {
			return e.CurrentValue
		}
		return "n/a"
	}
	var v state.Value
	var ok bool
	if primary {
		v, ok = f.states.FreshGet(ctx, e.EntityID)
	} else {
		v, ok = f.states.Get(ctx, e.EntityID)
	}
	if !ok {
		return "n/a"
	}
	return v.State
}

// areaDisplay returns the area's display name with a DB-sourced alias
// appended when the alias overlay carries one beyond the base keyword list.
func (f *Formatter) areaDisplay(area string) string {
	if area == "" {
		return "ismeretlen"
	}
	if f.aliases == nil {
		return area
	}
	overlay := f.aliases.Areas(context.Background())[area]
	base := patterns.AreaPatterns[area]
	for _, word := range overlay {
		if !containsWord(base, word) {
			return fmt.Sprintf("%s (%s)", area, word)
		}
	}
	return area
}

func containsWord(words []string, w string) bool {
	for _, word := range words {
		if word == w {
			return true
		}
	}
	return false
}

// cleanName maps a generic device_class-derived entity_id to a Hungarian
// descriptive name when no friendly_name was indexed (§4.9 clean_name).
func cleanName(e rerank.Ranked) string {
	if e.FriendlyName != "" && e.FriendlyName != e.EntityID {
		return e.FriendlyName
	}

	lower := strings.ToLower(e.EntityID)
	switch {
	case strings.Contains(lower, "temperature"):
		return "hőmérséklet"
	case strings.Contains(lower, "humidity"):
		return "páratartalom"
	case strings.Contains(lower, "pressure"):
		return "légnyomás"
	case strings.Contains(lower, "power"):
		return "teljesítmény"
	default:
		return e.EntityID
	}
}

// manualHint appends a short reference to a device manual when the top
// primary entity itself carries a device_has_manual edge and the graph
// store can resolve it.
func (f *Formatter) manualHint(ctx context.Context, in Input) string {
	if f.graph == nil || len(in.Primary) == 0 {
		return ""
	}
	top := in.Primary[0]
	docIDs, err := f.graph.Neighbors(ctx, top.EntityID, "device_has_manual")
	if err != nil || len(docIDs) == 0 {
		return ""
	}
	node, ok := f.graph.GetNode(ctx, docIDs[0])
	if !ok {
		return ""
	}
	text, _ := node.Props["text"].(string)
	if text == "" {
		return ""
	}
	if len(text) > 280 {
		text = text[:280] + "…"
	}
	return "Manual hint: " + text
}
