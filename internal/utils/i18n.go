package utils

// Server-side labels for the values the API returns: risk tiers, indicators
// and submission statuses. Everything else is the frontend's job.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":            "ok",
		"tier.ok":              "On track",
		"tier.watch":           "Watch",
		"tier.at_risk":         "At risk",
		"tier.unknown":         "No contact",
		"indicator.green":      "Good",
		"indicator.yellow":     "Attention",
		"indicator.red":        "Critical",
		"indicator.none":       "Not scored",
		"status.pending":       "Pending",
		"status.partial":       "Partially answered",
		"status.completed":     "Completed",
		"status.expired":       "Expired",
		"cycle.low_confidence": "Estimated: contract start unknown",
	},
	"pt": {
		"health.ok":            "ok",
		"tier.ok":              "Em dia",
		"tier.watch":           "Atenção",
		"tier.at_risk":         "Em risco",
		"tier.unknown":         "Sem contato",
		"indicator.green":      "Bom",
		"indicator.yellow":     "Atenção",
		"indicator.red":        "Crítico",
		"indicator.none":       "Sem pontuação",
		"status.pending":       "Pendente",
		"status.partial":       "Respondido parcialmente",
		"status.completed":     "Concluído",
		"status.expired":       "Expirado",
		"cycle.low_confidence": "Estimativa: início do contrato desconhecido",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}
