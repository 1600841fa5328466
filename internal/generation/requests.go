package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/extract"
	"github.com/hochfrequenz/oa-pipeline/internal/prompts"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// CleanHTML replaces tags with a space, collapses whitespace and trims
func CleanHTML(html string) string {
	text := htmlTagRegex.ReplaceAllString(html, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// RequestSolution asks the model for a reference C++ solution and test cases
func (c *Client) RequestSolution(ctx context.Context, item domain.WorkItem) (*domain.GeneratedSolution, error) {
	stage := string(domain.StageSolving)

	prompt, err := c.prompts.BuildSolutionPrompt(prompts.SolutionData{
		Title:     item.Title,
		Statement: CleanHTML(item.ProblemStatementHTML),
	})
	if err != nil {
		return nil, &Error{Stage: stage, Kind: KindContract, Message: err.Error(), Err: err}
	}

	res, err := c.Generate(ctx, GenerateRequest{
		Stage:          stage,
		Prompt:         prompt,
		Thinking:       c.prompts.Thinking(prompts.Solution, domain.ThinkingHigh),
		DefaultMessage: "Solution generation failed",
	})
	if err != nil {
		return nil, err
	}

	obj, err := extract.Structured(res.Text)
	if err != nil {
		return nil, &Error{Stage: stage, Kind: KindExtraction, Message: "Failed to parse solution JSON", Err: err}
	}

	source := extract.String(obj, "solution_cpp")
	if source == "" {
		return nil, &Error{Stage: stage, Kind: KindContract, Message: "Missing solution_cpp in response"}
	}

	return &domain.GeneratedSolution{
		SourceCode: source,
		TestCases:  testCasesFrom(obj),
	}, nil
}

// testCasesFrom prefers a nested test_cases object. Flat inputs/outputs
// are used only when both are present.
func testCasesFrom(obj map[string]any) domain.TestCases {
	if raw, ok := obj["test_cases"]; ok && raw != nil {
		nested, _ := extract.Object(obj, "test_cases")
		return domain.TestCases{
			Inputs:  extract.Strings(nested["inputs"]),
			Outputs: extract.Strings(nested["outputs"]),
		}
	}

	in, hasIn := obj["inputs"]
	out, hasOut := obj["outputs"]
	if hasIn && hasOut && in != nil && out != nil {
		return domain.TestCases{
			Inputs:  extract.Strings(in),
			Outputs: extract.Strings(out),
		}
	}
	return domain.TestCases{Inputs: []string{}, Outputs: []string{}}
}

// RequestScaffold asks the model for starter code in C++, Python and Java
func (c *Client) RequestScaffold(ctx context.Context, item domain.WorkItem, sourceCode string) (*domain.GeneratedScaffold, error) {
	stage := string(domain.StageScaffolding)

	prompt, err := c.prompts.BuildScaffoldPrompt(prompts.ScaffoldData{
		Title:             item.Title,
		Statement:         CleanHTML(item.ProblemStatementHTML),
		ReferenceSolution: sourceCode,
	})
	if err != nil {
		return nil, &Error{Stage: stage, Kind: KindContract, Message: err.Error(), Err: err}
	}

	res, err := c.Generate(ctx, GenerateRequest{
		Stage:          stage,
		Prompt:         prompt,
		Thinking:       c.prompts.Thinking(prompts.Scaffold, domain.ThinkingLow),
		DefaultMessage: "Boilerplate generation failed",
	})
	if err != nil {
		return nil, err
	}

	obj, err := extract.Structured(res.Text)
	if err != nil {
		return nil, &Error{Stage: stage, Kind: KindExtraction, Message: "Failed to parse boilerplate JSON", Err: err}
	}

	return &domain.GeneratedScaffold{
		Cpp:    extract.String(obj, "cpp_code"),
		Python: extract.String(obj, "python_code"),
		Java:   extract.String(obj, "java_code"),
	}, nil
}

type persistRequest struct {
	Action             string `json:"action"`
	QuestionID         any    `json:"question_id"`
	Title              string `json:"title"`
	ProblemStatement   string `json:"problem_statement"`
	SolutionCpp        string `json:"solution_cpp"`
	PregivenCodeCpp    string `json:"pregiven_code_cpp"`
	PregivenCodePython string `json:"pregiven_code_python"`
	PregivenCodeJava   string `json:"pregiven_code_java"`
	InputTestCase      string `json:"input_test_case"`
	OutputTestCase     string `json:"output_test_case"`
}

type persistResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Persist writes the generated artifacts back to the question
func (c *Client) Persist(ctx context.Context, item domain.WorkItem, solution domain.GeneratedSolution, scaffold domain.GeneratedScaffold) error {
	stage := string(domain.StagePersisting)

	inputs, err := encodeCases(solution.TestCases.Inputs)
	if err != nil {
		return &Error{Stage: stage, Kind: KindContract, Message: err.Error(), Err: err}
	}
	outputs, err := encodeCases(solution.TestCases.Outputs)
	if err != nil {
		return &Error{Stage: stage, Kind: KindContract, Message: err.Error(), Err: err}
	}

	payload, err := json.Marshal(persistRequest{
		Action:             "update_question",
		QuestionID:         questionID(item.ID),
		Title:              item.Title,
		ProblemStatement:   item.ProblemStatementHTML,
		SolutionCpp:        solution.SourceCode,
		PregivenCodeCpp:    scaffold.Cpp,
		PregivenCodePython: scaffold.Python,
		PregivenCodeJava:   scaffold.Java,
		InputTestCase:      inputs,
		OutputTestCase:     outputs,
	})
	if err != nil {
		return &Error{Stage: stage, Kind: KindContract, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PersistURL, bytes.NewReader(payload))
	if err != nil {
		return transportError(stage, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	var resp persistResponse
	if err := c.do(req, stage, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return backendError(stage, resp.Message, "Save failed")
	}
	return nil
}

// encodeCases renders a test-case list as a JSON array string; nil becomes [].
// HTML characters are left unescaped.
func encodeCases(cases []string) (string, error) {
	if cases == nil {
		cases = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cases); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// questionID sends numeric ids as JSON numbers, which is what the backend exported
func questionID(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}

// IsKind reports whether err is a generation Error of the given kind
func IsKind(err error, kind Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}
