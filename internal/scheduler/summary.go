package scheduler

import "dopple/internal/persona"

// Summary is the JSON report of one pass.
type Summary struct {
	RunID           string   `json:"runId"`
	Mode            Mode     `json:"mode"`
	Processed       int      `json:"processed"`
	Elapsed         int64    `json:"elapsed"`
	BudgetExhausted bool     `json:"budgetExhausted"`
	Skipped         int      `json:"skipped"`
	Summary         Totals   `json:"summary"`
	Results         []Result `json:"results"`
}

type Totals struct {
	StatusCounts    map[persona.Status]int `json:"statusCounts"`
	VideosCompleted int                    `json:"videosCompleted"`
	VideosFailed    int                    `json:"videosFailed"`
	VideosPending   int                    `json:"videosPending"`
}

// Result is the outcome for one record. Skipped records carry only a key
// and an error.
type Result struct {
	ID      string         `json:"id,omitempty"`
	Key     string         `json:"key"`
	Status  persona.Status `json:"status,omitempty"`
	Actions []string       `json:"actions"`
	Error   string         `json:"error,omitempty"`
}

func newSummary(runID string, mode Mode) *Summary {
	return &Summary{
		RunID:   runID,
		Mode:    mode,
		Summary: Totals{StatusCounts: make(map[persona.Status]int)},
		Results: []Result{},
	}
}

func (s *Summary) add(res Result, rec *persona.Record) {
	if res.Actions == nil {
		res.Actions = []string{}
	}
	s.Processed++
	s.Results = append(s.Results, res)
	s.Summary.StatusCounts[rec.Status]++
	c := rec.Counts()
	s.Summary.VideosCompleted += c.Completed
	s.Summary.VideosFailed += c.Failed
	s.Summary.VideosPending += c.Pending
}

func (s *Summary) skip(key string, err error) {
	s.Skipped++
	s.Results = append(s.Results, Result{Key: key, Actions: []string{}, Error: err.Error()})
}

// Result returns the entry for key, if the pass visited or skipped it.
func (s *Summary) Result(key string) (Result, bool) {
	for _, r := range s.Results {
		if r.Key == key {
			return r, true
		}
	}
	return Result{}, false
}
