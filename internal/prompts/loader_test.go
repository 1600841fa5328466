package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
)

func TestLoaderLoadEmbedded(t *testing.T) {
	loader := NewLoader() // No override dirs

	for _, name := range []string{Solution, Scaffold, Extract, Solve} {
		tmpl, meta, err := loader.LoadTemplate(name)
		if err != nil {
			t.Fatalf("failed to load %s template: %v", name, err)
		}
		if tmpl == nil {
			t.Fatalf("%s template should not be nil", name)
		}
		if meta == nil || meta.ID != name {
			t.Errorf("%s: meta = %+v, want ID %q", name, meta, name)
		}
	}
}

func TestLoaderThinking(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name string
		want domain.ThinkingLevel
	}{
		{Solution, domain.ThinkingHigh},
		{Scaffold, domain.ThinkingLow},
		{Extract, domain.ThinkingLow},
		{Solve, domain.ThinkingHigh},
		{"does-not-exist", domain.ThinkingLow},
	}
	for _, tt := range tests {
		if got := loader.Thinking(tt.name, domain.ThinkingLow); got != tt.want {
			t.Errorf("Thinking(%s) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestBuildSolutionPrompt(t *testing.T) {
	loader := NewLoader()

	result, err := loader.BuildSolutionPrompt(SolutionData{
		Title:     "Two Sum",
		Statement: "Given nums and a target...",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(result, "Given the following coding problem") {
		t.Errorf("prompt should start with the instruction, got %q", result[:40])
	}
	if !strings.Contains(result, "Problem: Two Sum\nGiven nums and a target...") {
		t.Error("prompt should embed title and statement")
	}
	if !strings.Contains(result, `"solution_cpp"`) {
		t.Error("prompt should describe the solution_cpp field")
	}
	if strings.Contains(result, "---") {
		t.Error("frontmatter should not leak into the prompt")
	}
}

func TestBuildScaffoldPrompt(t *testing.T) {
	loader := NewLoader()

	result, err := loader.BuildScaffoldPrompt(ScaffoldData{
		Title:             "Two Sum",
		Statement:         "Given nums...",
		ReferenceSolution: "int main(){}",
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"Problem Title: Two Sum", "Reference Solution (C++):\nint main(){}", `"java_code"`} {
		if !strings.Contains(result, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSolvePrompt(t *testing.T) {
	loader := NewLoader()

	result, err := loader.BuildSolvePrompt(SolveData{Language: "Python", ProblemStatement: "Sort the array."})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result, "Give me Python code") {
		t.Errorf("unexpected prompt start: %q", result)
	}
	if !strings.HasSuffix(result, "Problem Statement:\nSort the array.") {
		t.Errorf("prompt should end with the statement, got %q", result)
	}
}

func TestBuildExtractPrompt(t *testing.T) {
	result, err := NewLoader().BuildExtractPrompt()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "pre-given code") {
		t.Error("extract prompt should ask for pre-given code")
	}
}

func TestLoaderOverride(t *testing.T) {
	tmpDir := t.TempDir()

	custom := "---\nid: solution\nthinking: LOW\n---\nCUSTOM {{.Title}}: {{.Statement}}\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "solution.md"), []byte(custom), 0644); err != nil {
		t.Fatalf("failed to write override file: %v", err)
	}

	loader := NewLoader(tmpDir)

	result, err := loader.BuildSolutionPrompt(SolutionData{Title: "T", Statement: "S"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "CUSTOM T: S" {
		t.Errorf("result = %q, want override content", result)
	}
	if got := loader.Thinking(Solution, domain.ThinkingHigh); got != domain.ThinkingLow {
		t.Errorf("override thinking = %s, want LOW", got)
	}

	// Templates without an override still come from the embedded set
	if _, err := loader.BuildScaffoldPrompt(ScaffoldData{Title: "T"}); err != nil {
		t.Errorf("embedded fallback failed: %v", err)
	}
}

func TestLoaderOverridePrecedence(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	os.WriteFile(filepath.Join(first, "solve.md"), []byte("FIRST {{.Language}}"), 0644)
	os.WriteFile(filepath.Join(second, "solve.md"), []byte("SECOND {{.Language}}"), 0644)

	loader := NewLoader(first, second)
	result, err := loader.BuildSolvePrompt(SolveData{Language: "Go"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "FIRST Go" {
		t.Errorf("result = %q, want FIRST Go", result)
	}
}

func TestLoaderMissingKey(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "solve.md"), []byte("{{.Nope}}"), 0644)

	loader := NewLoader(tmpDir)
	if _, err := loader.BuildSolvePrompt(SolveData{}); err == nil {
		t.Error("expected error for unknown template field")
	}
}

func TestLoaderCaching(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "solve.md")
	os.WriteFile(path, []byte("v1 {{.Language}}"), 0644)

	loader := NewLoader(tmpDir)
	if got, _ := loader.BuildSolvePrompt(SolveData{Language: "C"}); got != "v1 C" {
		t.Fatalf("got %q", got)
	}

	os.WriteFile(path, []byte("v2 {{.Language}}"), 0644)
	if got, _ := loader.BuildSolvePrompt(SolveData{Language: "C"}); got != "v1 C" {
		t.Errorf("cached template should be reused, got %q", got)
	}

	loader.ClearCache()
	if got, _ := loader.BuildSolvePrompt(SolveData{Language: "C"}); got != "v2 C" {
		t.Errorf("after ClearCache got %q, want v2 C", got)
	}
}

func TestLoaderList(t *testing.T) {
	metas, err := NewLoader().List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "extract,scaffold,solution,solve" {
		t.Errorf("List() ids = %v", ids)
	}
}
