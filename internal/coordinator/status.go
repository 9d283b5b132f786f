package coordinator

// Phase is the actor's drain state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseDraining Phase = "draining"
)

// Status is a snapshot of the actor.
type Status struct {
	Phase  Phase        `json:"phase"`
	Ports  int          `json:"ports"`
	Rerun  bool         `json:"rerun"`
	Passes int          `json:"passes"`
	Last   *DrainResult `json:"last,omitempty"`
}
