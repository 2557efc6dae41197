package mqttbroker

import "strings"

// TopicMatches reports whether an MQTT topic filter matches a concrete
// topic name. Filters may use the single-level wildcard "+" and the
// multi-level wildcard "#" (which must be the final level). Topic names
// never contain wildcards.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
