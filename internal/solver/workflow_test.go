package solver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/generation"
)

type fakeGenerator struct {
	replies []*generation.GenerateResult
	errs    []error
	reqs    []generation.GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req generation.GenerateRequest) (*generation.GenerateResult, error) {
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.replies[i], nil
}

// stepClock advances one second per call
func stepClock() func() time.Time {
	t := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

var screenshot = []Image{{Filename: "a.png", ContentType: "image/png", Data: []byte("png")}}

func TestRun_Success(t *testing.T) {
	gen := &fakeGenerator{replies: []*generation.GenerateResult{
		{Text: "  Given an array nums...  \n"},
		{Text: "```python\nprint(1)\n```", Usage: &domain.TokenUsage{TotalTokens: 42}},
	}}
	var stages []domain.Stage
	w := New(gen, WithClock(stepClock()), WithHooks(Hooks{
		OnStage: func(s domain.Stage) { stages = append(stages, s) },
	}))

	res, err := w.Run(context.Background(), screenshot, "Python")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ProblemStatement != "Given an array nums..." {
		t.Errorf("ProblemStatement = %q", res.ProblemStatement)
	}
	if res.SolutionCode != "print(1)" {
		t.Errorf("SolutionCode = %q", res.SolutionCode)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 42 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if res.ExtractDuration <= 0 || res.SolveDuration <= 0 {
		t.Errorf("durations = %v, %v", res.ExtractDuration, res.SolveDuration)
	}

	if len(gen.reqs) != 2 {
		t.Fatalf("Generate calls = %d", len(gen.reqs))
	}
	extract, solve := gen.reqs[0], gen.reqs[1]
	if extract.Thinking != domain.ThinkingLow || solve.Thinking != domain.ThinkingHigh {
		t.Errorf("thinking = %s, %s", extract.Thinking, solve.Thinking)
	}
	if extract.MaxTokens != 64000 || solve.MaxTokens != 64000 {
		t.Errorf("max tokens = %d, %d", extract.MaxTokens, solve.MaxTokens)
	}
	if len(extract.Images) != 1 || len(solve.Images) != 1 {
		t.Error("both stages should carry the images")
	}
	if !strings.Contains(solve.Prompt, "Python") || !strings.Contains(solve.Prompt, "Given an array nums...") {
		t.Errorf("solve prompt:\n%s", solve.Prompt)
	}

	wantStages := []domain.Stage{domain.StageExtracting, domain.StageSolving, domain.StageNone}
	if len(stages) != 3 || stages[0] != wantStages[0] || stages[1] != wantStages[1] || stages[2] != wantStages[2] {
		t.Errorf("stages = %v", stages)
	}

	texts := make([]string, len(res.Log))
	for i, e := range res.Log {
		texts[i] = e.Text
	}
	want := []string{
		"Starting problem extraction...",
		"Problem statement extracted successfully in 2.00s.",
		"Generating Python solution...",
		"Solution generated in 2.00s.",
	}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("log = %q", texts)
	}
}

func TestRun_DefaultLanguage(t *testing.T) {
	gen := &fakeGenerator{replies: []*generation.GenerateResult{{Text: "s"}, {Text: "c"}}}
	res, err := New(gen).Run(context.Background(), screenshot, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Language != "C++" || !strings.Contains(gen.reqs[1].Prompt, "C++") {
		t.Errorf("language = %q", res.Language)
	}
}

func TestRun_NoImages(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := New(gen).Run(context.Background(), nil, "C++")
	if !errors.Is(err, ErrNoImages) {
		t.Errorf("err = %v", err)
	}
	if len(gen.reqs) != 0 {
		t.Error("no request should be sent")
	}
}

func TestRun_ExtractFailureAborts(t *testing.T) {
	boom := &generation.Error{Kind: generation.KindTransport, StatusCode: 502, Message: "HTTP error! status: 502"}
	gen := &fakeGenerator{errs: []error{boom}}
	var logged []string
	w := New(gen, WithHooks(Hooks{OnLog: func(e domain.LogEntry) { logged = append(logged, e.Text) }}))

	_, err := w.Run(context.Background(), screenshot, "Go")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(gen.reqs) != 1 {
		t.Errorf("solve stage should not run, got %d calls", len(gen.reqs))
	}
	if logged[len(logged)-1] != "Error: HTTP error! status: 502" {
		t.Errorf("last log = %q", logged[len(logged)-1])
	}
}

func TestRun_SolveFailure(t *testing.T) {
	gen := &fakeGenerator{
		replies: []*generation.GenerateResult{{Text: "statement"}},
		errs:    []error{nil, errors.New("Unknown backend error")},
	}
	_, err := New(gen).Run(context.Background(), screenshot, "Java")
	if err == nil || err.Error() != "Unknown backend error" {
		t.Errorf("err = %v", err)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```cpp\nint main(){}\n```", "int main(){}"},
		{"```c++\nx\n```", "x"},
		{"```go\npackage main\n```", "package main"},
		{"```\nplain\n```", "plain"},
		{"no fences", "no fences"},
		{"a\n```kotlin\nfun f()\n```\nb", "a\n\nfun f()\n\nb"},
	}
	for _, tt := range tests {
		if got := StripCodeFences(tt.in); got != tt.want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "shot.PNG")
	if err := os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	noExt := filepath.Join(dir, "capture")
	if err := os.WriteFile(noExt, []byte("\x89PNG\r\n\x1a\n0000"), 0644); err != nil {
		t.Fatal(err)
	}

	images, err := LoadImages([]string{png, noExt})
	if err != nil {
		t.Fatal(err)
	}
	if images[0].Filename != "shot.PNG" || images[0].ContentType != "image/png" {
		t.Errorf("image 0 = %s %s", images[0].Filename, images[0].ContentType)
	}
	if images[1].ContentType != "image/png" {
		t.Errorf("sniffed type = %s", images[1].ContentType)
	}

	txt := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(txt, []byte("hello"), 0644)
	if _, err := LoadImages([]string{txt}); err == nil {
		t.Error("text file should be rejected")
	}
	if _, err := LoadImages([]string{filepath.Join(dir, "missing.png")}); err == nil {
		t.Error("missing file should error")
	}
}
