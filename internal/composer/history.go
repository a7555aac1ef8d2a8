package composer

import "time"

// MaxHistory is the number of attempts a History keeps.
const MaxHistory = 5

// Attempt is one round of asking for an improved script.
type Attempt struct {
	Script    string    `json:"script"`
	Output    string    `json:"output"`
	Improved  string    `json:"improved"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a bounded FIFO of attempts. When full, adding an attempt evicts
// the oldest one. The zero value is ready to use. History is not safe for
// concurrent use.
type History struct {
	attempts []Attempt
}

// NewHistory seeds a history, keeping only the newest MaxHistory attempts.
func NewHistory(attempts ...Attempt) *History {
	h := &History{}
	for _, a := range attempts {
		h.Add(a)
	}
	return h
}

func (h *History) Add(a Attempt) {
	if len(h.attempts) == MaxHistory {
		copy(h.attempts, h.attempts[1:])
		h.attempts = h.attempts[:MaxHistory-1]
	}
	h.attempts = append(h.attempts, a)
}

// Attempts returns a copy of the attempts, oldest first.
func (h *History) Attempts() []Attempt {
	out := make([]Attempt, len(h.attempts))
	copy(out, h.attempts)
	return out
}

func (h *History) Len() int { return len(h.attempts) }
