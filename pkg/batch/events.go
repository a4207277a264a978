package batch

import (
	"time"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Event types
const (
	EventRunStarted  = "run_started"
	EventTask        = "task"
	EventRunFinished = "run_finished"
)

// Event is a progress notification, shaped for the websocket feed
type Event struct {
	Type     string     `json:"type"`
	RunID    string     `json:"run_id"`
	Key      *dvbs2.Key `json:"key,omitempty"`
	Status   Status     `json:"status,omitempty"`
	Entries  int        `json:"entries,omitempty"`
	Error    string     `json:"error,omitempty"`
	Done     int        `json:"done"`
	Total    int        `json:"total"`
	Failed   int        `json:"failed,omitempty"`
	Duration float64    `json:"duration_seconds,omitempty"`
	Time     time.Time  `json:"time"`
}

func taskEvent(runID string, res Result, done, total int) Event {
	key := res.Key
	ev := Event{
		Type:     EventTask,
		RunID:    runID,
		Key:      &key,
		Status:   res.Status,
		Entries:  res.Entries,
		Done:     done,
		Total:    total,
		Duration: res.Duration.Seconds(),
		Time:     time.Now(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}
