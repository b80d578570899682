package jobs

import "sync"

// Update is one status change published while a job runs. Polling the store
// remains the source of truth; updates are advisory and may be dropped for
// slow subscribers.
type Update struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// Terminal reports whether the update describes an absorbing status.
func (u Update) Terminal() bool {
	return u.Status == StatusCompleted || u.Status == StatusFailed
}

// Notifier fans out per-job status updates to in-process subscribers
// (the WebSocket watch stream and the synchronous transcribe handler).
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan Update]struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[chan Update]struct{})}
}

// Subscribe registers for updates about one job id. The returned cancel
// function must be called to release the subscription.
func (n *Notifier) Subscribe(jobID string) (<-chan Update, func()) {
	ch := make(chan Update, 16)

	n.mu.Lock()
	if n.subs[jobID] == nil {
		n.subs[jobID] = make(map[chan Update]struct{})
	}
	n.subs[jobID][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if set, ok := n.subs[jobID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(n.subs, jobID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an update to all subscribers of the job. Sends never
// block; a full subscriber buffer drops the update.
func (n *Notifier) Publish(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[u.JobID] {
		select {
		case ch <- u:
		default:
		}
	}
}
