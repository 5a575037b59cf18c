// Package backend holds helpers shared by the upstream links.
package backend

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

// Fold returns the state of a user after msg is applied to prev.
// A nil result means the user is absent: removed, or updated before it was
// ever added.
func Fold(prev *core.SpaceUser, msg core.SpaceMessage) *core.SpaceUser {
	switch m := msg.(type) {
	case *core.AddSpaceUser:
		return m.User.Clone()
	case *core.UpdateSpaceUser:
		if prev == nil {
			return nil
		}
		next := prev.Clone()
		m.User.ApplyTo(next)
		return next
	case *core.RemoveSpaceUser:
		return nil
	default:
		panic(fmt.Sprintf("backend: unknown space message %T", msg))
	}
}

// EncodeUser stores a user in its wire form.
func EncodeUser(u *core.SpaceUser) ([]byte, error) {
	data, err := json.Marshal(proto.UserFromCore(u))
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	return data, nil
}

// DecodeUser is the inverse of EncodeUser.
func DecodeUser(data []byte) (*core.SpaceUser, error) {
	var u proto.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if u.UUID == "" {
		return nil, proto.ErrMissingUser
	}
	return u.ToCore(), nil
}
