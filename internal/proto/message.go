package proto

import "encoding/json"

// Inbound is the envelope for messages coming from a watcher.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello        = "hello"
	InboundTypeWatch        = "watch"
	InboundTypeUnwatch      = "unwatch"
	InboundTypeAddUser      = "add_user"
	InboundTypeUpdateUser   = "update_user"
	InboundTypeRemoveUser   = "remove_user"
	InboundTypeAddFilter    = "add_filter"
	InboundTypeUpdateFilter = "update_filter"
	InboundTypeRemoveFilter = "remove_filter"

	OutboundTypeBatch = "batch"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady     = "ready"
	EventWatching  = "watching"
	EventUnwatched = "unwatched"
)

// HelloData is sent by the watcher to introduce itself.
type HelloData struct {
	User     string `json:"user"`
	Name     string `json:"name,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// SpaceData names a space to watch or unwatch.
type SpaceData struct {
	Space string `json:"space"`
}

// CharacterLayer is one avatar texture.
type CharacterLayer struct {
	URL   string `json:"url"`
	Layer string `json:"layer,omitempty"`
}

// User is a full presence record.
type User struct {
	UUID               string           `json:"uuid"`
	Name               string           `json:"name"`
	Tags               []string         `json:"tags,omitempty"`
	PlayURI            string           `json:"play_uri,omitempty"`
	Color              string           `json:"color,omitempty"`
	CharacterLayers    []CharacterLayer `json:"character_layers,omitempty"`
	IsLogged           bool             `json:"is_logged"`
	AvailabilityStatus int32            `json:"availability_status"`
	RoomName           string           `json:"room_name,omitempty"`
	VisitCardURL       string           `json:"visit_card_url,omitempty"`
	ScreenSharing      bool             `json:"screen_sharing"`
	AudioSharing       bool             `json:"audio_sharing"`
	VideoSharing       bool             `json:"video_sharing"`
}

// PartialUser carries only the fields being changed.
type PartialUser struct {
	UUID               string           `json:"uuid"`
	Name               *string          `json:"name,omitempty"`
	Tags               []string         `json:"tags,omitempty"`
	PlayURI            *string          `json:"play_uri,omitempty"`
	Color              *string          `json:"color,omitempty"`
	CharacterLayers    []CharacterLayer `json:"character_layers,omitempty"`
	IsLogged           *bool            `json:"is_logged,omitempty"`
	AvailabilityStatus *int32           `json:"availability_status,omitempty"`
	RoomName           *string          `json:"room_name,omitempty"`
	VisitCardURL       *string          `json:"visit_card_url,omitempty"`
	ScreenSharing      *bool            `json:"screen_sharing,omitempty"`
	AudioSharing       *bool            `json:"audio_sharing,omitempty"`
	VideoSharing       *bool            `json:"video_sharing,omitempty"`
}

// AddUser adds a user to a space.
type AddUser struct {
	Space string `json:"space"`
	User  *User  `json:"user"`
}

// UpdateUser updates some fields of a user.
type UpdateUser struct {
	Space string       `json:"space"`
	User  *PartialUser `json:"user"`
}

// RemoveUser removes a user from a space.
type RemoveUser struct {
	Space    string `json:"space"`
	UserUUID string `json:"user_uuid"`
}

// SpaceMessage holds exactly one of its fields. It is both the element of a
// watcher batch and the payload of a backend envelope.
type SpaceMessage struct {
	AddUser    *AddUser    `json:"add_user,omitempty"`
	UpdateUser *UpdateUser `json:"update_user,omitempty"`
	RemoveUser *RemoveUser `json:"remove_user,omitempty"`
}

// ContainsName matches users whose name contains Value.
type ContainsName struct {
	Value string `json:"value"`
}

// Filter is a named filter scoped to a space. Exactly one predicate field is
// expected; Kind names a predicate this relay may not know.
type Filter struct {
	Space        string        `json:"space"`
	Name         string        `json:"name"`
	ContainsName *ContainsName `json:"contains_name,omitempty"`
	Kind         string        `json:"kind,omitempty"`
}

// Outbound is the envelope for messages sent to a watcher.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Batch is the data of a batch frame.
type Batch struct {
	Messages []SpaceMessage `json:"messages"`
}

// EventReadyData answers a successful hello.
type EventReadyData struct {
	Watcher  string `json:"watcher"`
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// EventSpace is the data of watching/unwatched events.
type EventSpace struct {
	Space string `json:"space"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Backend envelope types.
const (
	BackTypeMessage = "space_message"
	BackTypeWatch   = "watch"
	BackTypeUnwatch = "unwatch"
)

// BackEnvelope is exchanged with the backend over websocket or Redis.
type BackEnvelope struct {
	Type    string        `json:"type"`
	Origin  string        `json:"origin,omitempty"`
	BackID  int           `json:"back_id,omitempty"`
	Space   string        `json:"space,omitempty"`
	Message *SpaceMessage `json:"message,omitempty"`
}
