package harness

import "github.com/roach88/streamledger/internal/ledger"

// TraceEvent is one executed step.
type TraceEvent struct {
	Step   int            `json:"step"`
	Op     string         `json:"op"`
	Caller string         `json:"caller,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result uint64         `json:"result"`
	Error  string         `json:"error,omitempty"` // error code, empty on success
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step in order, including rejected ones.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the final ledger state.
	Snapshot ledger.Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed step.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
