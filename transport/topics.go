package transport

const topicPrefix = "infinitic."

// MonitoringTopic receives status change events.
const MonitoringTopic = topicPrefix + "monitoring"

// EngineTopic is the topic consumed by the lifecycle engine of one entity
// kind.
func EngineTopic(kind string) string {
	return topicPrefix + kind + ".engine"
}

// ExecutorTopic is the topic consumed by workers able to run the named
// task.
func ExecutorTopic(name string) string {
	return topicPrefix + "executor." + name
}
