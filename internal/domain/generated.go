package domain

// TestCases holds parallel input/output sequences.
// Unequal lengths are tolerated and passed through as-is.
type TestCases struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// GeneratedSolution is the structured result of the solution stage
type GeneratedSolution struct {
	SourceCode string    `json:"solution_cpp"`
	TestCases  TestCases `json:"test_cases"`
}

// GeneratedScaffold holds starter code for the three presentation languages
type GeneratedScaffold struct {
	Cpp    string `json:"cpp_code"`
	Python string `json:"python_code"`
	Java   string `json:"java_code"`
}

// TokenUsage is the usage metadata reported by the generation backend
type TokenUsage struct {
	PromptTokens     int `json:"promptTokenCount"`
	CandidatesTokens int `json:"candidatesTokenCount"`
	TotalTokens      int `json:"totalTokenCount"`
}
