package trial

import (
	"time"

	"sendcode_nexus/proxypool/model"
)

// StageStart marks the line emitted when a trial begins. Terminal lines use the
// outcome kind name as their stage.
const StageStart = "start"

// Status is one human-readable status line of a trial.
type Status struct {
	Time     time.Time      `json:"time"`
	Endpoint model.Endpoint `json:"-"`
	Proxy    string         `json:"proxy"`
	Stage    string         `json:"stage"`
	Message  string         `json:"message"`
	Outcome  *model.Outcome `json:"outcome,omitempty"`
}

// Observer receives status lines as trials progress. Calls come from many
// goroutines at once.
type Observer interface {
	OnStatus(Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Status)

func (f ObserverFunc) OnStatus(s Status) { f(s) }

func notify(o Observer, s Status) {
	if o == nil {
		return
	}
	s.Proxy = s.Endpoint.Redacted()
	o.OnStatus(s)
}
