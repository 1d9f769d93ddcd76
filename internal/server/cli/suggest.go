package cli

import (
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// suggestCutoff is the lowest similarity ratio worth suggesting.
const suggestCutoff = 0.6

// closest returns the candidate most similar to word, if any reaches the
// cutoff.
func closest(word string, candidates []string) (string, bool) {
	best, bestRatio := "", 0.0
	a := strings.Split(strings.ToLower(word), "")
	for _, c := range candidates {
		m := difflib.NewMatcher(a, strings.Split(c, ""))
		if r := m.Ratio(); r > bestRatio {
			best, bestRatio = c, r
		}
	}
	return best, bestRatio >= suggestCutoff
}

// rephrase corrects the command and its subcommand against the command
// table. It reports false when nothing could be matched or nothing changed.
func rephrase(parts []string) ([]string, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	out := append([]string(nil), parts...)

	cmd := out[0]
	if _, known := commands[cmd]; !known {
		fixed, found := closest(cmd, commandNames())
		if !found {
			return nil, false
		}
		out[0] = fixed
	}

	subs := commands[out[0]]
	if len(subs) > 0 && len(out) > 1 && !slices.Contains(subs, out[1]) {
		fixed, found := closest(out[1], subs)
		if !found {
			return nil, false
		}
		out[1] = fixed
	}

	if strings.Join(out, " ") == strings.Join(parts, " ") {
		return nil, false
	}
	return out, true
}
