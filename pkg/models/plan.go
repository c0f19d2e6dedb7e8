package models

// ExecutionStatus is the run state shared by plans and steps.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Plan is the planner's working document for one user request.
type Plan struct {
	Title    string          `json:"title"`
	Goal     string          `json:"goal"`
	Language string          `json:"language,omitempty"`
	Message  string          `json:"message,omitempty"` // planner's opening message to the user
	Steps    []*Step         `json:"steps"`
	Status   ExecutionStatus `json:"status"`
}

// NextStep returns the first step still waiting to run, or nil when every
// step is completed or failed.
func (p *Plan) NextStep() *Step {
	for _, s := range p.Steps {
		if s.Status == ExecutionPending || s.Status == ExecutionRunning {
			return s
		}
	}
	return nil
}

// IsDone reports whether no executable step remains.
func (p *Plan) IsDone() bool {
	return p.NextStep() == nil
}

// Step is one unit of executor work inside a plan.
type Step struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Status      ExecutionStatus `json:"status"`
	Success     *bool           `json:"success,omitempty"`
	Result      string          `json:"result,omitempty"`
	Attachments []string        `json:"attachments,omitempty"` // sandbox file paths produced by the step
	Error       string          `json:"error,omitempty"`
}
