package workflow

import "regexp"

// TemplateVars are the named substitutions spec.md §4.1 guarantees: the
// mission prompt, its working-directory path, the accumulated upstream
// context, and any custom variable passed in Custom (the mission request's
// CustomVars). A mission's ExternalRef is not added to Custom, so it is not
// available to templates.
type TemplateVars struct {
	MissionPrompt string
	WorktreePath  string
	Context       string
	Custom        map[string]string
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes {{mission_prompt}}, {{worktree_path}}, {{context}}, and
// any custom variable into text. Unknown variables substitute to the empty
// string, per spec.md §4.1 — rendering never fails.
func Render(text string, vars TemplateVars) string {
	known := map[string]string{
		"mission_prompt": vars.MissionPrompt,
		"worktree_path":  vars.WorktreePath,
		"context":        vars.Context,
	}
	for k, v := range vars.Custom {
		known[k] = v
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := known[name]; ok {
			return v
		}
		return ""
	})
}
