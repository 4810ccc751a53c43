package stream

import "stemwatch/internal/progress"

// Attach forwards session events to r and returns a function that detaches it.
func Attach(s *Session, r progress.Reporter) (detach func()) {
	type reg struct {
		t  EventType
		id ListenerID
	}
	regs := []reg{
		{EventConnected, s.On(EventConnected, func(ev Event) { r.Connected(ev.JobID) })},
		{EventProgress, s.On(EventProgress, func(ev Event) { r.Progress(ev.Message) })},
		{EventMessage, s.On(EventMessage, func(ev Event) {
			if ev.Message.Err != nil {
				r.Undecodable(ev.Message)
			}
		})},
		{EventCompleted, s.On(EventCompleted, func(ev Event) { r.Completed(ev.Message) })},
		{EventError, s.On(EventError, func(ev Event) { r.Error(ev.Message) })},
		{EventEnd, s.On(EventEnd, func(ev Event) { r.End(ev.Message) })},
		{EventReconnecting, s.On(EventReconnecting, func(ev Event) { r.Reconnecting(ev.JobID, ev.Attempt, ev.Delay) })},
		{EventClosed, s.On(EventClosed, func(ev Event) { r.Closed(ev.JobID) })},
	}
	return func() {
		for _, g := range regs {
			s.Off(g.t, g.id)
		}
	}
}
