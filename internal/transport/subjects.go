package transport

import "strings"

// Subjects builds the subject names of one workflow domain. The naming
// convention is fixed:
//
//	<domain>.deliverables.<agentID>.<stream>.<instanceID>   results awaited by the engine
//	<domain>.orchestration.events.<eventType>               lifecycle events it emits
//	<domain>.tasks.<stageKind>.<instanceID>                 stage announcements for dispatchers
type Subjects struct {
	Domain string
}

// Deliverable returns the subject an agent publishes a stage result on.
func (s Subjects) Deliverable(agentID, stream, instanceID string) string {
	return strings.Join([]string{s.Domain, "deliverables", agentID, stream, instanceID}, ".")
}

// Event returns the subject a lifecycle event is published on.
func (s Subjects) Event(eventType string) string {
	return strings.Join([]string{s.Domain, "orchestration", "events", eventType}, ".")
}

// StageStart returns the subject a stage announcement is published on.
func (s Subjects) StageStart(stageKind, instanceID string) string {
	return strings.Join([]string{s.Domain, "tasks", stageKind, instanceID}, ".")
}

// EventStream returns the name of the append-only event stream for this
// domain.
func (s Subjects) EventStream() string {
	return s.Domain + ":orchestration:events"
}
