package core

import "slices"

// AvailabilityStatus is the presence code a front-end reports for a user.
type AvailabilityStatus int32

const (
	AvailabilityUnchanged AvailabilityStatus = iota
	AvailabilityOnline
	AvailabilitySilent
	AvailabilityAway
	AvailabilityJitsi
	AvailabilityBBB
	AvailabilityDenyProximityMeeting
	AvailabilitySpeaker
)

// CharacterLayer is one texture of a user's avatar.
type CharacterLayer struct {
	URL   string
	Layer string
}

// SpaceUser is a presence record held in a space directory.
type SpaceUser struct {
	UUID               string
	Name               string
	Tags               []string
	PlayURI            string
	Color              string
	CharacterLayers    []CharacterLayer
	IsLogged           bool
	AvailabilityStatus AvailabilityStatus
	RoomName           string
	VisitCardURL       string
	ScreenSharing      bool
	AudioSharing       bool
	VideoSharing       bool
}

// Clone returns a deep copy so callers never share slices with the directory.
func (u *SpaceUser) Clone() *SpaceUser {
	if u == nil {
		return nil
	}
	c := *u
	c.Tags = slices.Clone(u.Tags)
	c.CharacterLayers = slices.Clone(u.CharacterLayers)
	return &c
}

// PartialSpaceUser carries only the fields a sender chose to change.
// Nil pointers and empty slices mean "leave untouched".
type PartialSpaceUser struct {
	UUID               string
	Name               *string
	Tags               []string
	PlayURI            *string
	Color              *string
	CharacterLayers    []CharacterLayer
	IsLogged           *bool
	AvailabilityStatus *AvailabilityStatus
	RoomName           *string
	VisitCardURL       *string
	ScreenSharing      *bool
	AudioSharing       *bool
	VideoSharing       *bool
}

// ApplyTo overwrites every present field of p onto u.
func (p *PartialSpaceUser) ApplyTo(u *SpaceUser) {
	if len(p.Tags) > 0 {
		u.Tags = slices.Clone(p.Tags)
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.PlayURI != nil {
		u.PlayURI = *p.PlayURI
	}
	if p.Color != nil {
		u.Color = *p.Color
	}
	if len(p.CharacterLayers) > 0 {
		u.CharacterLayers = slices.Clone(p.CharacterLayers)
	}
	if p.IsLogged != nil {
		u.IsLogged = *p.IsLogged
	}
	if p.AvailabilityStatus != nil {
		u.AvailabilityStatus = *p.AvailabilityStatus
	}
	if p.RoomName != nil {
		u.RoomName = *p.RoomName
	}
	if p.VisitCardURL != nil {
		u.VisitCardURL = *p.VisitCardURL
	}
	if p.ScreenSharing != nil {
		u.ScreenSharing = *p.ScreenSharing
	}
	if p.AudioSharing != nil {
		u.AudioSharing = *p.AudioSharing
	}
	if p.VideoSharing != nil {
		u.VideoSharing = *p.VideoSharing
	}
}
