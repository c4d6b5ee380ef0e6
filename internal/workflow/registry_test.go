package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, file, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePrompt(t *testing.T, dir, relPath, body string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "prompts/plan.txt", "plan: {{mission_prompt}}")
	writePrompt(t, dir, "prompts/implement.txt", "implement: {{context}}")
	writeManifest(t, dir, "demo.toml", `
[workflow]
name = "demo"

[[steps]]
id = "plan"
role = "planner"
prompt_file = "prompts/plan.txt"

[[steps]]
id = "implement"
role = "worker"
prompt_file = "prompts/implement.txt"
depends_on = ["plan"]
`)

	reg, errs := Load(dir, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected load errors: %v", errs)
	}
	wf, ok := reg.Get("demo")
	if !ok {
		t.Fatal("expected demo workflow to be registered")
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(wf.Steps))
	}
	step, ok := wf.StepByID("implement")
	if !ok || step.PromptText != "implement: {{context}}" {
		t.Fatalf("unexpected step: %+v", step)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "demo" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestLoadRejectsInvalidManifestWithoutFailingBatch(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "prompts/plan.txt", "ok")
	writeManifest(t, dir, "good.toml", `
[workflow]
name = "good"

[[steps]]
id = "plan"
role = "planner"
prompt_file = "prompts/plan.txt"
`)
	writeManifest(t, dir, "bad.toml", `
[workflow]
name = ""

[[steps]]
id = "x"
role = "planner"
prompt_file = "prompts/plan.txt"
`)

	reg, errs := Load(dir, nil)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one load error, got %d: %v", len(errs), errs)
	}
	if _, ok := reg.Get("good"); !ok {
		t.Fatal("expected the valid manifest to still load")
	}
}

func TestLoadRejectsCyclicDependency(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "prompts/a.txt", "a")
	writePrompt(t, dir, "prompts/b.txt", "b")
	writeManifest(t, dir, "cycle.toml", `
[workflow]
name = "cycle"

[[steps]]
id = "a"
role = "planner"
prompt_file = "prompts/a.txt"
depends_on = ["b"]

[[steps]]
id = "b"
role = "planner"
prompt_file = "prompts/b.txt"
depends_on = ["a"]
`)

	_, errs := Load(dir, nil)
	if len(errs) != 1 {
		t.Fatalf("expected a cycle to be rejected, got %v", errs)
	}
}

func TestLoadRejectsDuplicateWorkflowName(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "prompts/a.txt", "a")
	manifest := `
[workflow]
name = "dup"

[[steps]]
id = "a"
role = "planner"
prompt_file = "prompts/a.txt"
`
	writeManifest(t, dir, "one.toml", manifest)
	writeManifest(t, dir, "two.toml", manifest)

	reg, errs := Load(dir, nil)
	if len(errs) != 1 {
		t.Fatalf("expected one duplicate-name rejection, got %v", errs)
	}
	if _, ok := reg.Get("dup"); !ok {
		t.Fatal("expected the first-loaded manifest to win")
	}
}

func TestLoadKeepsHigherVersionOnDuplicateName(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "prompts/a.txt", "a")
	stepBody := `
[[steps]]
id = "a"
role = "planner"
prompt_file = "prompts/a.txt"
`
	writeManifest(t, dir, "one.toml", `
[workflow]
name = "dup"
version = "1.0.0"
`+stepBody)
	writeManifest(t, dir, "two.toml", `
[workflow]
name = "dup"
version = "2.0.0"
`+stepBody)

	reg, errs := Load(dir, nil)
	if len(errs) != 1 {
		t.Fatalf("expected the lower version to be rejected, got %v", errs)
	}
	wf, ok := reg.Get("dup")
	if !ok {
		t.Fatal("expected dup to be registered")
	}
	if wf.Version != "2.0.0" {
		t.Fatalf("expected the higher version 2.0.0 to win, got %q", wf.Version)
	}
}

func TestResolveRetryTargetFromCondition(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "prompts/review.txt", "review")
	writePrompt(t, dir, "prompts/fix.txt", "fix")
	writeManifest(t, dir, "retry.toml", `
[workflow]
name = "retry"

[[steps]]
id = "review"
role = "reviewer"
prompt_file = "prompts/review.txt"

[[steps]]
id = "fix"
role = "worker"
prompt_file = "prompts/fix.txt"
depends_on = ["review"]
condition = "review.result == 'FAIL'"
max_retries = 2
`)

	reg, errs := Load(dir, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	wf, _ := reg.Get("retry")
	fix, _ := wf.StepByID("fix")
	if fix.RetryTarget != "review" {
		t.Fatalf("expected implicit retry target %q, got %q", "review", fix.RetryTarget)
	}
}
