package core

import "fmt"

// SpaceMessage is one of AddSpaceUser, UpdateSpaceUser or RemoveSpaceUser.
// The interface is sealed; type switches over it only need these three cases.
type SpaceMessage interface {
	SpaceName() string
	UserUUID() string
	isSpaceMessage()
}

// AddSpaceUser announces a full user record.
type AddSpaceUser struct {
	Space string
	User  *SpaceUser
}

// UpdateSpaceUser carries a partial record keyed by UUID.
type UpdateSpaceUser struct {
	Space string
	User  *PartialSpaceUser
}

// RemoveSpaceUser drops a user by UUID.
type RemoveSpaceUser struct {
	Space string
	UUID  string
}

func (m *AddSpaceUser) SpaceName() string    { return m.Space }
func (m *UpdateSpaceUser) SpaceName() string { return m.Space }
func (m *RemoveSpaceUser) SpaceName() string { return m.Space }

func (m *AddSpaceUser) UserUUID() string    { return m.User.UUID }
func (m *UpdateSpaceUser) UserUUID() string { return m.User.UUID }
func (m *RemoveSpaceUser) UserUUID() string { return m.UUID }

func (*AddSpaceUser) isSpaceMessage()    {}
func (*UpdateSpaceUser) isSpaceMessage() {}
func (*RemoveSpaceUser) isSpaceMessage() {}

// Message kinds, used for logs, metrics and wire type tags.
const (
	KindAddUser    = "add_user"
	KindUpdateUser = "update_user"
	KindRemoveUser = "remove_user"
)

// MessageKind names the variant carried by msg.
func MessageKind(msg SpaceMessage) string {
	switch msg.(type) {
	case *AddSpaceUser:
		return KindAddUser
	case *UpdateSpaceUser:
		return KindUpdateUser
	case *RemoveSpaceUser:
		return KindRemoveUser
	default:
		panic(fmt.Sprintf("core: unknown space message %T", msg))
	}
}

// BackMessage is the envelope a space writes to its backend connection.
type BackMessage struct {
	Message SpaceMessage
}

// SubMessage is the envelope emitted to a watcher, both for live fan-out and
// for synthesized delta events.
type SubMessage struct {
	Message SpaceMessage
}
