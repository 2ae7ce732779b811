package harness

import "sync"

// Trace event types.
const (
	EventIntent    = "intent"
	EventReceipt   = "receipt"
	EventReject    = "reject"
	EventDispatch  = "dispatch"
	EventResolve   = "resolve"
	EventFailure   = "failure"
	EventRedirect  = "redirect"
	EventStream    = "event"
	EventAdvance   = "advance"
	EventReconcile = "reconcile"
	EventError     = "error"
)

// TraceEvent is one observable outcome of a scenario run.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Step   int    `json:"step"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// PostState is a post as the viewer sees it at the end of a run.
type PostState struct {
	ID       string `json:"id"`
	Likes    int64  `json:"likes"`
	Recasts  int64  `json:"recasts"`
	Comments int64  `json:"comments"`
	Liked    bool   `json:"liked"`
	Recast   bool   `json:"recast"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains failed assertion messages.
	Errors []string `json:"errors,omitempty"`

	// Posts is the final published view, ordered by id.
	Posts []PostState `json:"posts"`

	mu   sync.Mutex
	step int
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends a trace event for the current step. Dispatcher and
// listener callbacks arrive on the engine loop, hence the lock.
func (r *Result) record(typ, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Step:   r.step,
		Type:   typ,
		Detail: detail,
	})
}

func (r *Result) setStep(step int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step = step
}

func (r *Result) trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.Trace...)
}
