package domain

// JudgeRequest runs a coding answer against the question's test cases.
type JudgeRequest struct {
	QuestionID int64  `json:"questionId"`
	Code       string `json:"code"`
	Language   string `json:"language"`
}

// JudgeCaseResult is the outcome of a single test case. Hidden cases come back
// without input and expected output.
type JudgeCaseResult struct {
	Input       string `json:"input,omitempty"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual,omitempty"`
	Passed      bool   `json:"passed"`
	IsPublic    bool   `json:"isPublic"`
	Explanation string `json:"explanation,omitempty"`
	Error       string `json:"error,omitempty"`
}

// JudgeReport is the judge response. Error is set for compile failures.
type JudgeReport struct {
	Results []JudgeCaseResult `json:"results"`
	Error   string            `json:"error,omitempty"`
}

// Passed counts passing cases.
func (r JudgeReport) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// RunRequest runs code against custom stdin.
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

// RunOutput is the console result of a custom run.
type RunOutput struct {
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}
