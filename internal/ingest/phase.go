package ingest

// Phase is the orchestrator's state machine stage.
type Phase int32

const (
	Connecting Phase = iota
	Subscribing
	WarmingUp
	Live
	Failed
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case WarmingUp:
		return "warming_up"
	case Live:
		return "live"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
