package notify

import "strings"

// Channel layout on the signal bus:
//
//	{prefix}:player:{playerID}
//	{prefix}:topic:{topic}
//	{prefix}:all

// PlayerChannel returns the bus channel for direct events to playerID.
func PlayerChannel(prefix, playerID string) string {
	return prefix + ":player:" + playerID
}

// TopicChannel returns the bus channel for a topic such as "trade:44002".
func TopicChannel(prefix, topic string) string {
	return prefix + ":topic:" + topic
}

// AllChannel returns the broadcast channel.
func AllChannel(prefix string) string {
	return prefix + ":all"
}

// Pattern returns the glob matching every marketplace channel.
func Pattern(prefix string) string {
	return prefix + ":*"
}

// Target kinds returned by ParseChannel.
const (
	TargetPlayer = "player"
	TargetTopic  = "topic"
	TargetAll    = "all"
)

// ParseChannel splits a bus channel into its target kind and id. The id is
// empty for broadcasts.
func ParseChannel(prefix, channel string) (kind, id string, ok bool) {
	rest, found := strings.CutPrefix(channel, prefix+":")
	if !found {
		return "", "", false
	}
	if rest == TargetAll {
		return TargetAll, "", true
	}
	kind, id, found = strings.Cut(rest, ":")
	if !found || id == "" || (kind != TargetPlayer && kind != TargetTopic) {
		return "", "", false
	}
	return kind, id, true
}
