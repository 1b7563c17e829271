package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "statehub"

// Topics builds the statehub topic hierarchy under a configurable prefix:
//
//	{prefix}/state              retained snapshot of the shared record
//	{prefix}/event/changed      one message per committed change
//	{prefix}/command/patch      inbound partial updates
//	{prefix}/command/reset      inbound resets
//	{prefix}/system/status      online/offline status (LWT)
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics for prefix. Leading and trailing slashes are
// stripped.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.Trim(prefix, "/")}
}

func (t Topics) base() string {
	if p := strings.Trim(t.Prefix, "/"); p != "" {
		return p
	}
	return DefaultTopicPrefix
}

// State returns the retained snapshot topic.
//
// Example: statehub/state
func (t Topics) State() string {
	return t.base() + "/state"
}

// EventChanged returns the change event topic.
//
// Example: statehub/event/changed
func (t Topics) EventChanged() string {
	return t.base() + "/event/changed"
}

// CommandPatch returns the topic devices publish partial updates to.
//
// Example: statehub/command/patch
func (t Topics) CommandPatch() string {
	return t.base() + "/command/patch"
}

// CommandReset returns the topic devices publish reset requests to.
//
// Example: statehub/command/reset
func (t Topics) CommandReset() string {
	return t.base() + "/command/reset"
}

// AllCommands returns a wildcard matching every command topic.
//
// Example: statehub/command/+
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// SystemStatus returns the topic for service online/offline status.
//
// Example: statehub/system/status
func (t Topics) SystemStatus() string {
	return t.base() + "/system/status"
}

// CommandName returns the last segment of a command topic ("patch" or
// "reset"), or "" if topic is not under this prefix's command tree.
func (t Topics) CommandName(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.base()+"/command/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
