package provider

import (
	"fmt"
	"os"
	"strings"
)

// maxAlternateSlots bounds the indexed alternate credential scan per kind.
const maxAlternateSlots = 5

// defaultModels maps provider kind to its default model.
var defaultModels = map[string]string{
	"mistral":   "mistral-small-latest",
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
}

// Credential is one usable API key for a provider kind
type Credential struct {
	ID       string
	Kind     string
	APIKey   string
	Model    string
	Priority int
}

// envSlotName returns the environment variable name for a credential slot.
// Slot 0 is the primary, slots 1..N are indexed alternates.
func envSlotName(kind string, slot int) string {
	base := strings.ToUpper(kind) + "_API_KEY"
	if slot == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, slot)
}

// CollectCredentials scans the environment for credentials of the given
// provider kinds, in order. Duplicate keys within a kind are dropped.
func CollectCredentials(kinds []string, models map[string]string) []Credential {
	creds := []Credential{}
	priority := 0

	for _, kind := range kinds {
		model := models[kind]
		if model == "" {
			model = defaultModels[kind]
		}

		seen := map[string]bool{}
		for slot := 0; slot <= maxAlternateSlots; slot++ {
			key := strings.TrimSpace(os.Getenv(envSlotName(kind, slot)))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			creds = append(creds, Credential{
				ID:       fmt.Sprintf("%s-%d", kind, slot),
				Kind:     kind,
				APIKey:   key,
				Model:    model,
				Priority: priority,
			})
			priority++
		}
	}

	return creds
}
