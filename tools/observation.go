package tools

// Field names of a rendered observation.
const (
	FieldObservationNode = "observation_node"
	FieldReasoning       = "reasoning"
)

// ObservationSchema describes the JSON object a narrative renderer must return.
func ObservationSchema() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		FieldObservationNode: StringProperty("One or two sentences naming the concrete entity, platform and time pattern, followed by the inferred behavioural meaning."),
		FieldReasoning:       StringProperty("Short note on how the wording was derived from the decided pattern."),
	}, FieldObservationNode, FieldReasoning)
}

// ActionSchema describes one action as listed in renderer prompts.
func ActionSchema() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"type":       StringEnumProperty("Action variant", "app_switch", "instagram_message_sent", "instagram_post_liked", "whatsapp_message_sent", "slack_message_sent", "unknown"),
		"timestamp":  StringProperty("RFC 3339 timestamp"),
		"package":    StringProperty("Android package the action happened in"),
		"importance": NumberProperty("Evidence weight in [0, 1]"),
		"target":     StringProperty("Person, channel or account the action was directed at"),
	}, "type", "timestamp")
}

// PatternSchema describes the decided pattern handed to a renderer.
func PatternSchema() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"group":       StringProperty("Group key, e.g. target:sarah_smith"),
		"dimension":   StringEnumProperty("Partition dimension", "target", "kind", "time", "chain"),
		"entity":      StringProperty("Entity the pattern is about"),
		"entity_type": StringEnumProperty("Entity type", "person", "app", "content_source", "routine"),
		"platforms":   ArrayProperty("Platforms involved", StringProperty("Platform name")),
		"time_of_day": StringEnumProperty("Dominant time-of-day bucket", "morning", "work_hours", "evening", "night"),
		"days":        IntegerProperty("Distinct calendar days covered"),
		"count":       IntegerProperty("Member actions"),
		"draft":       StringProperty("Deterministic draft of the observation"),
		"actions":     ArrayProperty("Member actions, oldest first", ActionSchema()),
	}, "group", "entity", "draft")
}
