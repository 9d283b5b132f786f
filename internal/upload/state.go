package upload

// Phase names the variant of a State.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseRequestingCredentials Phase = "requesting_credentials"
	PhaseTransferring          Phase = "transferring"
	PhaseFinalizing            Phase = "finalizing"
	PhaseSucceeded             Phase = "succeeded"
	PhaseFailed                Phase = "failed"
)

// Terminal reports whether no transition may leave the phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// State is the closed set of upload states. Callers switch on the concrete
// type to reach per-variant payloads.
type State interface {
	Phase() Phase
	isState()
}

// Idle is the state of a freshly started upload while its folder is scanned.
type Idle struct{}

// RequestingCredentials waits on the build API for transfer credentials.
type RequestingCredentials struct{}

// Transferring carries live transfer progress.
type Transferring struct {
	ArtifactID string
	Progress   Progress
}

// Finalizing waits on the build API to accept the manifest.
type Finalizing struct {
	ArtifactID string
}

// Succeeded is terminal.
type Succeeded struct {
	ArtifactID string
}

// Failed is terminal. ArtifactID is set when the build was registered before
// the failure.
type Failed struct {
	Err        UploadError
	ArtifactID string
}

func (Idle) Phase() Phase                  { return PhaseIdle }
func (RequestingCredentials) Phase() Phase { return PhaseRequestingCredentials }
func (Transferring) Phase() Phase          { return PhaseTransferring }
func (Finalizing) Phase() Phase            { return PhaseFinalizing }
func (Succeeded) Phase() Phase             { return PhaseSucceeded }
func (Failed) Phase() Phase                { return PhaseFailed }

func (Idle) isState()                  {}
func (RequestingCredentials) isState() {}
func (Transferring) isState()          {}
func (Finalizing) isState()            {}
func (Succeeded) isState()             {}
func (Failed) isState()                {}

// validTransition enforces the upload pipeline edges. Transferring may repeat
// to publish progress.
func validTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.Terminal()
	}
	switch from {
	case PhaseIdle:
		return to == PhaseRequestingCredentials
	case PhaseRequestingCredentials:
		return to == PhaseTransferring
	case PhaseTransferring:
		return to == PhaseTransferring || to == PhaseFinalizing
	case PhaseFinalizing:
		return to == PhaseSucceeded
	default:
		return false
	}
}

// ArtifactIDOf returns the registered build id carried by s, if any.
func ArtifactIDOf(s State) string {
	switch v := s.(type) {
	case Transferring:
		return v.ArtifactID
	case Finalizing:
		return v.ArtifactID
	case Succeeded:
		return v.ArtifactID
	case Failed:
		return v.ArtifactID
	default:
		return ""
	}
}
