package bus

import "strings"

// Job queue topics.
const (
	TopicJobStateChanged = "job.state_changed"
)

// TopicProjectPrefix matches every project event channel.
const TopicProjectPrefix = "project."

// ProjectTopic returns the channel a project's domain events are published on.
func ProjectTopic(projectID string) string {
	return TopicProjectPrefix + projectID + ".events"
}

// ProjectIDFromTopic extracts the project id from a ProjectTopic channel.
func ProjectIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicProjectPrefix) || !strings.HasSuffix(topic, ".events") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, TopicProjectPrefix), ".events")
	return id, id != ""
}

// JobStateChangedEvent is published when a queued job changes state.
type JobStateChangedEvent struct {
	JobID     string // Job ID
	OldStatus string // Previous status (e.g. QUEUED); empty on enqueue
	NewStatus string // New status (e.g. RUNNING)
}
