package core

// CommandKind describes what the watcher wants to do.
type CommandKind int

const (
	// CommandWatchSpace attaches the watcher to a space, creating it if needed.
	CommandWatchSpace CommandKind = iota
	// CommandUnwatchSpace detaches the watcher from a space.
	CommandUnwatchSpace
	// CommandAddUser adds a user to a space and forwards it upstream.
	CommandAddUser
	// CommandUpdateUser applies a partial update and forwards it upstream.
	CommandUpdateUser
	// CommandRemoveUser removes a user and forwards it upstream.
	CommandRemoveUser
	// CommandAddFilter attaches a named filter for a space.
	CommandAddFilter
	// CommandUpdateFilter replaces a named filter.
	CommandUpdateFilter
	// CommandRemoveFilter drops a named filter.
	CommandRemoveFilter
)

var commandNames = [...]string{
	CommandWatchSpace:   "watch",
	CommandUnwatchSpace: "unwatch",
	CommandAddUser:      "add_user",
	CommandUpdateUser:   "update_user",
	CommandRemoveUser:   "remove_user",
	CommandAddFilter:    "add_filter",
	CommandUpdateFilter: "update_filter",
	CommandRemoveFilter: "remove_filter",
}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Command represents an action requested by a watcher.
type Command struct {
	Kind    CommandKind
	Space   string
	User    *SpaceUser        // CommandAddUser
	Partial *PartialSpaceUser // CommandUpdateUser
	UUID    string            // CommandRemoveUser
	Filter  SpaceFilter       // filter commands
}
