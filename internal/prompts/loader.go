package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"gopkg.in/yaml.v3"
)

// Template names understood by the pipeline
const (
	Solution = "solution"
	Scaffold = "scaffold"
	Extract  = "extract"
	Solve    = "solve"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata for a prompt template.
type TemplateMeta struct {
	ID          string               `yaml:"id"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Thinking    domain.ThinkingLevel `yaml:"thinking"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Configured directory (if any)
// 2. User config: ~/.config/oa-pipeline/prompts/
func DefaultLoader(configuredDir string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if configuredDir != "" {
		dirs = append(dirs, configuredDir)
	}
	dirs = append(dirs, filepath.Join(home, ".config", "oa-pipeline", "prompts"))

	return NewLoader(dirs...)
}

func templatePath(name string) string {
	return path.Join("pipeline", name+".md")
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(name string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, name+".md")); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, templatePath(name))
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by name (e.g. "solution").
func (l *Loader) LoadTemplate(name string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[name]; ok {
		meta := l.metaCache[name]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(name)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", name, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", name, err)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.metaCache[name] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
// Surrounding whitespace is trimmed from the result.
func (l *Loader) Execute(name string, data any) (string, error) {
	tmpl, _, err := l.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Thinking returns the reasoning effort declared in a template's frontmatter,
// or fallback when the template declares none.
func (l *Loader) Thinking(name string, fallback domain.ThinkingLevel) domain.ThinkingLevel {
	_, meta, err := l.LoadTemplate(name)
	if err != nil || meta == nil || meta.Thinking == "" {
		return fallback
	}
	return meta.Thinking
}

// List returns metadata for all embedded templates, sorted by ID.
func (l *Loader) List() ([]*TemplateMeta, error) {
	entries, err := fs.ReadDir(embeddedFS, "pipeline")
	if err != nil {
		return nil, err
	}

	var result []*TemplateMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		_, meta, err := l.LoadTemplate(name)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			result = append(result, meta)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SolutionData holds template variables for the solution prompt.
type SolutionData struct {
	Title     string
	Statement string
}

// ScaffoldData holds template variables for the boilerplate prompt.
type ScaffoldData struct {
	Title             string
	Statement         string
	ReferenceSolution string
}

// SolveData holds template variables for the screenshot solution prompt.
type SolveData struct {
	Language         string
	ProblemStatement string
}

// BuildSolutionPrompt renders the solution template.
func (l *Loader) BuildSolutionPrompt(data SolutionData) (string, error) {
	return l.Execute(Solution, data)
}

// BuildScaffoldPrompt renders the boilerplate template.
func (l *Loader) BuildScaffoldPrompt(data ScaffoldData) (string, error) {
	return l.Execute(Scaffold, data)
}

// BuildExtractPrompt renders the problem extraction template.
func (l *Loader) BuildExtractPrompt() (string, error) {
	return l.Execute(Extract, struct{}{})
}

// BuildSolvePrompt renders the screenshot solution template.
func (l *Loader) BuildSolvePrompt(data SolveData) (string, error) {
	return l.Execute(Solve, data)
}

// ClearCache clears the template cache (useful for development/testing).
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}
