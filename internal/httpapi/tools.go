package httpapi

import "github.com/lopeti/ha-rag-bridge/internal/rerank"

// domainServices maps a controllable domain to the Home-Assistant-style
// service it most commonly needs; mirrors rerank.controllableDomains
// (light, switch, climate, cover, lock).
var domainServices = map[string]string{
	"light":   "turn_on",
	"switch":  "turn_on",
	"climate": "set_temperature",
	"cover":   "open_cover",
	"lock":    "unlock",
}

// buildTools implements the §6.1 /process-request "tools" field: one
// function tool per controllable domain present among the primary entities,
// parameterized by the entity_ids of that domain. Non-empty only when the
// caller is told the request is a control intent.
func buildTools(primary []rerank.Ranked) []tool {
	byDomain := map[string][]string{}
	var order []string
	for _, e := range primary {
		if _, ok := domainServices[e.Domain]; !ok {
			continue
		}
		if _, seen := byDomain[e.Domain]; !seen {
			order = append(order, e.Domain)
		}
		byDomain[e.Domain] = append(byDomain[e.Domain], e.EntityID)
	}

	tools := make([]tool, 0, len(order))
	for _, domain := range order {
		ids := byDomain[domain]
		tools = append(tools, tool{
			Type: "function",
			Function: toolFunction{
				Name: domain + "." + domainServices[domain],
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"entity_id": map[string]any{
							"type": "string",
							"enum": ids,
						},
					},
					"required": []string{"entity_id"},
				},
			},
		})
	}
	return tools
}
