// Package solver turns screenshots of a problem into a statement and a
// solution in a chosen language.
package solver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/generation"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/prompts"
)

const (
	DefaultLanguage  = "C++"
	DefaultMaxTokens = 64000
)

// ErrNoImages is returned when Run is called without images
var ErrNoImages = errors.New("Please upload images")

var (
	langFenceRegex = regexp.MustCompile("```(?:cpp|c\\+\\+|python|java|javascript|c|go|rust|swift|kotlin)?")
)

// Generator is the raw generation call. *generation.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req generation.GenerateRequest) (*generation.GenerateResult, error)
}

// Image is a screenshot passed to both stages
type Image = generation.Image

// Result is the outcome of a successful workflow run
type Result struct {
	Language         string             `json:"language"`
	ProblemStatement string             `json:"problem_statement"`
	SolutionCode     string             `json:"solution_code"`
	Usage            *domain.TokenUsage `json:"usage,omitempty"`
	ExtractDuration  time.Duration      `json:"extract_duration"`
	SolveDuration    time.Duration      `json:"solve_duration"`
	Log              []domain.LogEntry  `json:"log"`
}

// Hooks observe a workflow run
type Hooks struct {
	OnLog   func(entry domain.LogEntry)
	OnStage func(stage domain.Stage)
}

// Workflow runs extract then solve. There are no retries; the first
// error aborts the run.
type Workflow struct {
	gen       Generator
	prompts   *prompts.Loader
	maxTokens int
	hooks     Hooks
	now       func() time.Time
	log       logger.Logger
}

// Option configures a Workflow
type Option func(*Workflow)

// WithPrompts sets the prompt loader
func WithPrompts(l *prompts.Loader) Option {
	return func(w *Workflow) { w.prompts = l }
}

// WithMaxTokens sets the output ceiling sent with both stages
func WithMaxTokens(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxTokens = n
		}
	}
}

// WithHooks registers observers
func WithHooks(h Hooks) Option {
	return func(w *Workflow) { w.hooks = h }
}

// WithLogger sets the structured logger
func WithLogger(log logger.Logger) Option {
	return func(w *Workflow) { w.log = log }
}

// WithClock sets the time source used for durations and log timestamps
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a Workflow
func New(gen Generator, opts ...Option) *Workflow {
	w := &Workflow{
		gen:       gen,
		maxTokens: DefaultMaxTokens,
		now:       time.Now,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.prompts == nil {
		w.prompts = prompts.NewLoader()
	}
	return w
}

// run holds the per-call log so concurrent Runs stay independent
type run struct {
	w       *Workflow
	entries []domain.LogEntry
}

func (r *run) logf(format string, args ...any) {
	entry := domain.LogEntry{Timestamp: r.w.now(), Text: fmt.Sprintf(format, args...)}
	r.entries = append(r.entries, entry)
	r.w.log.Info(entry.Text)
	if r.w.hooks.OnLog != nil {
		r.w.hooks.OnLog(entry)
	}
}

func (r *run) stage(s domain.Stage) {
	if r.w.hooks.OnStage != nil {
		r.w.hooks.OnStage(s)
	}
}

// fail records the error in the run log and returns it unchanged
func (r *run) fail(err error) error {
	entry := domain.LogEntry{Timestamp: r.w.now(), Text: "Error: " + err.Error()}
	r.entries = append(r.entries, entry)
	r.w.log.Error(entry.Text)
	if r.w.hooks.OnLog != nil {
		r.w.hooks.OnLog(entry)
	}
	r.stage(domain.StageNone)
	return err
}

// Run extracts a problem statement from images, then asks for a solution
// in targetLanguage ("C++" when empty).
func (w *Workflow) Run(ctx context.Context, images []Image, targetLanguage string) (*Result, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if strings.TrimSpace(targetLanguage) == "" {
		targetLanguage = DefaultLanguage
	}
	r := &run{w: w}

	start := w.now()
	r.stage(domain.StageExtracting)
	r.logf("Starting problem extraction...")

	extractPrompt, err := w.prompts.BuildExtractPrompt()
	if err != nil {
		return nil, r.fail(err)
	}
	extracted, err := w.gen.Generate(ctx, generation.GenerateRequest{
		Stage:     string(domain.StageExtracting),
		Prompt:    extractPrompt,
		Thinking:  w.prompts.Thinking(prompts.Extract, domain.ThinkingLow),
		MaxTokens: w.maxTokens,
		Images:    images,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	statement := strings.TrimSpace(extracted.Text)
	extractDuration := w.now().Sub(start)
	r.logf("Problem statement extracted successfully in %.2fs.", extractDuration.Seconds())

	solveStart := w.now()
	r.stage(domain.StageSolving)
	r.logf("Generating %s solution...", targetLanguage)

	solvePrompt, err := w.prompts.BuildSolvePrompt(prompts.SolveData{
		Language:         targetLanguage,
		ProblemStatement: statement,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	solved, err := w.gen.Generate(ctx, generation.GenerateRequest{
		Stage:     string(domain.StageSolving),
		Prompt:    solvePrompt,
		Thinking:  w.prompts.Thinking(prompts.Solve, domain.ThinkingHigh),
		MaxTokens: w.maxTokens,
		Images:    images,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	solveDuration := w.now().Sub(solveStart)

	code := StripCodeFences(solved.Text)
	r.logf("Solution generated in %.2fs.", solveDuration.Seconds())
	r.stage(domain.StageNone)

	return &Result{
		Language:         targetLanguage,
		ProblemStatement: statement,
		SolutionCode:     code,
		Usage:            solved.Usage,
		ExtractDuration:  extractDuration,
		SolveDuration:    solveDuration,
		Log:              r.entries,
	}, nil
}

// StripCodeFences removes markdown fences, with or without a language tag
func StripCodeFences(text string) string {
	text = langFenceRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
