package sandbox

import "regexp"

// The rewrite pass disarms the side-effecting call shapes the vendor
// script is known to use while leaving its value-producing control flow
// intact. The rule set is an explicit allow-list, versioned alongside
// observed vendor script revisions: anything the rules do not match is
// an open risk surfaced by Residuals, never silently assumed safe.
//
// Ruleset v1, matching vendor script builds observed through 2025.
var patchRules = []patchRule{
	{
		// full-page reload
		name:    "location.reload",
		re:      regexp.MustCompile(`\b(?:window\s*\.\s*|document\s*\.\s*)?location\s*\.\s*reload\b`),
		replace: "__sandboxNav.reload",
	},
	{
		// redirect-by-replace
		name:    "location.replace",
		re:      regexp.MustCompile(`\b(?:window\s*\.\s*|document\s*\.\s*)?location\s*\.\s*replace\b`),
		replace: "__sandboxNav.replace",
	},
	{
		// redirect-by-assign
		name:    "location.assign",
		re:      regexp.MustCompile(`\b(?:window\s*\.\s*|document\s*\.\s*)?location\s*\.\s*assign\b`),
		replace: "__sandboxNav.assign",
	},
	{
		// redirect by assignment to href; [^=] keeps comparisons intact
		name:    "location.href assignment",
		re:      regexp.MustCompile(`\b(?:window\s*\.\s*|document\s*\.\s*)?location\s*\.\s*href\s*=\s*([^=])`),
		replace: "__sandboxNav.href = $1",
	},
	{
		// redirect by assignment to the location object itself
		name:    "location assignment",
		re:      regexp.MustCompile(`(^|[^.\w])location\s*=\s*([^=])`),
		replace: "${1}__sandboxNav.href = $2",
	},
	{
		// new-window open
		name:    "window.open",
		re:      regexp.MustCompile(`\bwindow\s*\.\s*open\b`),
		replace: "__sandboxNav.open",
	},
	{
		// The script's own automation check. Rewriting the probe to a
		// literal false forces the "not a bot" branch even if the
		// script reads it before our navigator stub is consulted.
		name:    "webdriver short-circuit",
		re:      regexp.MustCompile(`\bnavigator\s*\.\s*webdriver\b`),
		replace: "false",
	},
}

type patchRule struct {
	name    string
	re      *regexp.Regexp
	replace string
}

// PatchNote records one rule that fired and how often.
type PatchNote struct {
	Rule  string
	Count int
}

// Patch applies the rewrite rules to the challenge script and reports
// which fired.
func Patch(src string) (string, []PatchNote) {
	var notes []PatchNote

	for _, rule := range patchRules {
		count := len(rule.re.FindAllStringIndex(src, -1))
		if count == 0 {
			continue
		}

		src = rule.re.ReplaceAllString(src, rule.replace)
		notes = append(notes, PatchNote{Rule: rule.name, Count: count})
	}

	return src, notes
}

// residualRes match navigation shapes the rewrite rules cannot reach,
// like computed member access. Their presence after patching means the
// vendor script changed and the ruleset needs a revision.
var residualRes = []*regexp.Regexp{
	regexp.MustCompile(`\blocation\s*\[\s*['"](?:href|reload|replace|assign)['"]`),
	regexp.MustCompile(`\blocation\s*\.\s*(?:reload|replace|assign)\b`),
	regexp.MustCompile(`\bwindow\s*\[\s*['"]open['"]`),
}

// Residuals scans a patched script for navigation references that
// survived the rewrite.
func Residuals(patched string) []string {
	var found []string
	for _, re := range residualRes {
		for _, m := range re.FindAllString(patched, -1) {
			found = append(found, m)
		}
	}
	return found
}
