package pipeline

import "fmt"

// Trigger is the event kind that starts a run. Every kind executes the
// identical step sequence; the trigger is only recorded on the run.
type Trigger string

const (
	// TriggerPush is a commit pushed to the remote.
	TriggerPush Trigger = "push"
	// TriggerPullRequest is a pull request opened or updated.
	TriggerPullRequest Trigger = "pull_request"
	// TriggerManual is an operator-invoked dispatch.
	TriggerManual Trigger = "manual"
)

// ParseTrigger validates a raw trigger string.
func ParseTrigger(raw string) (Trigger, error) {
	switch t := Trigger(raw); t {
	case TriggerPush, TriggerPullRequest, TriggerManual:
		return t, nil
	default:
		return "", fmt.Errorf("unknown trigger %q", raw)
	}
}

func (t Trigger) String() string {
	return string(t)
}
