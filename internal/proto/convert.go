package proto

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vovakirdan/spacerelay/internal/core"
)

var (
	// ErrEmptyMessage is returned for a SpaceMessage with no variant set.
	ErrEmptyMessage = errors.New("space message carries no payload")
	// ErrAmbiguousMessage is returned when more than one variant is set.
	ErrAmbiguousMessage = errors.New("space message carries more than one payload")
	// ErrMissingUser is returned when a user payload or its uuid is missing.
	ErrMissingUser = errors.New("user uuid is required")
)

func layersToCore(in []CharacterLayer) []core.CharacterLayer {
	if len(in) == 0 {
		return nil
	}
	out := make([]core.CharacterLayer, len(in))
	for i, l := range in {
		out[i] = core.CharacterLayer{URL: l.URL, Layer: l.Layer}
	}
	return out
}

func layersFromCore(in []core.CharacterLayer) []CharacterLayer {
	if len(in) == 0 {
		return nil
	}
	out := make([]CharacterLayer, len(in))
	for i, l := range in {
		out[i] = CharacterLayer{URL: l.URL, Layer: l.Layer}
	}
	return out
}

// ToCore converts a wire user.
func (u *User) ToCore() *core.SpaceUser {
	return &core.SpaceUser{
		UUID:               u.UUID,
		Name:               u.Name,
		Tags:               slices.Clone(u.Tags),
		PlayURI:            u.PlayURI,
		Color:              u.Color,
		CharacterLayers:    layersToCore(u.CharacterLayers),
		IsLogged:           u.IsLogged,
		AvailabilityStatus: core.AvailabilityStatus(u.AvailabilityStatus),
		RoomName:           u.RoomName,
		VisitCardURL:       u.VisitCardURL,
		ScreenSharing:      u.ScreenSharing,
		AudioSharing:       u.AudioSharing,
		VideoSharing:       u.VideoSharing,
	}
}

// UserFromCore converts a core user.
func UserFromCore(u *core.SpaceUser) *User {
	return &User{
		UUID:               u.UUID,
		Name:               u.Name,
		Tags:               slices.Clone(u.Tags),
		PlayURI:            u.PlayURI,
		Color:              u.Color,
		CharacterLayers:    layersFromCore(u.CharacterLayers),
		IsLogged:           u.IsLogged,
		AvailabilityStatus: int32(u.AvailabilityStatus),
		RoomName:           u.RoomName,
		VisitCardURL:       u.VisitCardURL,
		ScreenSharing:      u.ScreenSharing,
		AudioSharing:       u.AudioSharing,
		VideoSharing:       u.VideoSharing,
	}
}

// ToCore converts a wire partial user.
func (u *PartialUser) ToCore() *core.PartialSpaceUser {
	p := &core.PartialSpaceUser{
		UUID:            u.UUID,
		Name:            u.Name,
		Tags:            slices.Clone(u.Tags),
		PlayURI:         u.PlayURI,
		Color:           u.Color,
		CharacterLayers: layersToCore(u.CharacterLayers),
		IsLogged:        u.IsLogged,
		RoomName:        u.RoomName,
		VisitCardURL:    u.VisitCardURL,
		ScreenSharing:   u.ScreenSharing,
		AudioSharing:    u.AudioSharing,
		VideoSharing:    u.VideoSharing,
	}
	if u.AvailabilityStatus != nil {
		status := core.AvailabilityStatus(*u.AvailabilityStatus)
		p.AvailabilityStatus = &status
	}
	return p
}

// PartialUserFromCore converts a core partial user.
func PartialUserFromCore(u *core.PartialSpaceUser) *PartialUser {
	p := &PartialUser{
		UUID:            u.UUID,
		Name:            u.Name,
		Tags:            slices.Clone(u.Tags),
		PlayURI:         u.PlayURI,
		Color:           u.Color,
		CharacterLayers: layersFromCore(u.CharacterLayers),
		IsLogged:        u.IsLogged,
		RoomName:        u.RoomName,
		VisitCardURL:    u.VisitCardURL,
		ScreenSharing:   u.ScreenSharing,
		AudioSharing:    u.AudioSharing,
		VideoSharing:    u.VideoSharing,
	}
	if u.AvailabilityStatus != nil {
		status := int32(*u.AvailabilityStatus)
		p.AvailabilityStatus = &status
	}
	return p
}

// SpaceMessageFromCore wraps a core message in its wire form.
func SpaceMessageFromCore(msg core.SpaceMessage) SpaceMessage {
	switch m := msg.(type) {
	case *core.AddSpaceUser:
		return SpaceMessage{AddUser: &AddUser{Space: m.Space, User: UserFromCore(m.User)}}
	case *core.UpdateSpaceUser:
		return SpaceMessage{UpdateUser: &UpdateUser{Space: m.Space, User: PartialUserFromCore(m.User)}}
	case *core.RemoveSpaceUser:
		return SpaceMessage{RemoveUser: &RemoveUser{Space: m.Space, UserUUID: m.UUID}}
	default:
		panic(fmt.Sprintf("proto: unknown space message %T", msg))
	}
}

// ToCore validates m and converts it to a core message.
func (m *SpaceMessage) ToCore() (core.SpaceMessage, error) {
	set := 0
	for _, present := range []bool{m.AddUser != nil, m.UpdateUser != nil, m.RemoveUser != nil} {
		if present {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, ErrEmptyMessage
	case set > 1:
		return nil, ErrAmbiguousMessage
	}

	switch {
	case m.AddUser != nil:
		if m.AddUser.User == nil || m.AddUser.User.UUID == "" {
			return nil, ErrMissingUser
		}
		return &core.AddSpaceUser{Space: m.AddUser.Space, User: m.AddUser.User.ToCore()}, nil
	case m.UpdateUser != nil:
		if m.UpdateUser.User == nil || m.UpdateUser.User.UUID == "" {
			return nil, ErrMissingUser
		}
		return &core.UpdateSpaceUser{Space: m.UpdateUser.Space, User: m.UpdateUser.User.ToCore()}, nil
	default:
		if m.RemoveUser.UserUUID == "" {
			return nil, ErrMissingUser
		}
		return &core.RemoveSpaceUser{Space: m.RemoveUser.Space, UUID: m.RemoveUser.UserUUID}, nil
	}
}

// ToCore converts a wire filter. Unknown predicate kinds become a predicate
// that never matches.
func (f *Filter) ToCore() core.SpaceFilter {
	out := core.SpaceFilter{Name: f.Name, Space: f.Space}
	switch {
	case f.ContainsName != nil:
		out.Predicate = core.ContainsName{Value: f.ContainsName.Value}
	default:
		kind := f.Kind
		if kind == "" {
			kind = "unknown"
		}
		out.Predicate = core.UnsupportedPredicate{Name: kind}
	}
	return out
}
