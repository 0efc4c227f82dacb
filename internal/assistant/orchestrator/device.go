package orchestrator

import (
	"regexp"
	"sort"
	"strings"
)

// BuildAliasTable maps lowercased aliases to canonical display names. Every
// device maps its own full name; a small curated set of household short forms
// is added when the full name contains the matching fragment. "light" is only
// aliased when it cannot be ambiguous: either the name is the specific
// "bedroom light" or exactly one known device mentions a light at all.
func BuildAliasTable(knownDeviceNames []string) map[string]string {
	aliases := make(map[string]string, len(knownDeviceNames))

	lightCount := 0
	for _, name := range knownDeviceNames {
		if strings.Contains(strings.ToLower(name), "light") {
			lightCount++
		}
	}

	for _, name := range knownDeviceNames {
		lower := strings.ToLower(name)
		aliases[lower] = name

		if strings.Contains(lower, "ac") {
			aliases["ac"] = name
		}
		if strings.Contains(lower, "heater") {
			aliases["heater"] = name
		}
		if strings.Contains(lower, "fridge") {
			aliases["fridge"] = name
		}
		if strings.Contains(lower, "pc") {
			aliases["pc"] = name
		}
		if strings.Contains(lower, "bedroom light") {
			aliases["light"] = name
		} else if strings.Contains(lower, "light") && lightCount == 1 {
			aliases["light"] = name
		}
	}

	return aliases
}

// ExtractDevices collects the canonical names of every device mentioned in
// text. Longest alias first so "living room ac" wins before "ac"; matches are
// word-boundary anchored so "ac" hits "the AC" but never "back" or "vacancy".
// An empty result is valid and means no explicit device mention.
func ExtractDevices(text string, knownDeviceNames []string) []string {
	aliases := BuildAliasTable(knownDeviceNames)
	lower := strings.ToLower(text)

	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	seen := make(map[string]bool)
	var found []string
	for _, alias := range keys {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(alias) + `\b`)
		if re.MatchString(lower) {
			canonical := aliases[alias]
			if !seen[canonical] {
				seen[canonical] = true
				found = append(found, canonical)
			}
		}
	}
	return found
}
