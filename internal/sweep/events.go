package sweep

import "time"

// Event kinds emitted over the Notify hook.
const (
	EventRunStarted   = "run_started"
	EventPRMerged     = "pr_merged"
	EventPRConflicted = "pr_conflicted"
	EventPRFailed     = "pr_failed"
	EventRunFinished  = "run_finished"
)

// Event is a progress notification emitted as a sweep proceeds. Serve mode
// relays these to subscribed watch clients.
type Event struct {
	Kind   string    `json:"kind"`
	Repo   string    `json:"repo,omitempty"`
	Number int       `json:"number,omitempty"`
	Title  string    `json:"title,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

func (s *Sweeper) emit(ev Event) {
	if s.Notify == nil {
		return
	}
	ev.Repo = s.cfg.Repo
	ev.Time = time.Now()
	s.Notify(ev)
}
