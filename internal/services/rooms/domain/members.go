package domain

// Identify upserts the member for identity and returns it. An existing
// member keeps its joinedAt and, when identity.Busy is nil, its busy flag.
// The caller becomes host when the room has none or its host is offline.
func (s *RoomState) Identify(identity Identity, now int64) Member {
	s.normalize()
	existing, known := s.Members[identity.ClientID]

	member := Member{
		ClientID:    identity.ClientID,
		DisplayName: identity.DisplayName,
		Avatar:      identity.Avatar,
		Online:      true,
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	if known {
		member.JoinedAt = existing.JoinedAt
		member.Busy = existing.Busy
	}
	if identity.Busy != nil {
		member.Busy = *identity.Busy
	}
	s.Members[member.ClientID] = member

	if !s.hostOnline() {
		s.HostClientID = member.ClientID
	}
	s.UpdatedAt = now
	return member
}

// SetBusy updates a member's busy flag.
func (s *RoomState) SetBusy(clientID string, busy bool, now int64) (Member, bool) {
	member, ok := s.Members[clientID]
	if !ok {
		return Member{}, false
	}
	member.Busy = busy
	member.LastSeenAt = now
	s.Members[clientID] = member
	s.UpdatedAt = now
	return member, true
}

// MarkOffline flags a member offline and re-elects the host if it left.
// It reports whether the member existed and was online.
func (s *RoomState) MarkOffline(clientID string, now int64) bool {
	member, ok := s.Members[clientID]
	if !ok || !member.Online {
		return false
	}
	member.Online = false
	member.LastSeenAt = now
	s.Members[clientID] = member
	if s.HostClientID == clientID || !s.hostOnline() {
		s.ElectHost()
	}
	s.UpdatedAt = now
	return true
}

// Reconcile marks offline every online member whose clientId is not live,
// then repairs the host pointer. It reports whether anything changed.
func (s *RoomState) Reconcile(live map[string]bool, now int64) bool {
	changed := false
	for id, member := range s.Members {
		if member.Online && !live[id] {
			member.Online = false
			member.LastSeenAt = now
			s.Members[id] = member
			changed = true
		}
	}
	if s.HostClientID != "" && !s.hostOnline() {
		s.ElectHost()
		changed = true
	}
	if changed {
		s.UpdatedAt = now
	}
	return changed
}

// ElectHost picks the online member with the earliest joinedAt, breaking
// ties by the smallest clientId. With nobody online the host is cleared.
func (s *RoomState) ElectHost() string {
	var (
		best  Member
		found bool
	)
	for _, member := range s.Members {
		if !member.Online {
			continue
		}
		if !found || member.JoinedAt < best.JoinedAt ||
			(member.JoinedAt == best.JoinedAt && member.ClientID < best.ClientID) {
			best = member
			found = true
		}
	}
	if !found {
		s.HostClientID = ""
		return ""
	}
	s.HostClientID = best.ClientID
	return best.ClientID
}

// AnyOnline reports whether at least one member is online.
func (s RoomState) AnyOnline() bool {
	for _, member := range s.Members {
		if member.Online {
			return true
		}
	}
	return false
}

// Reset wipes members, host, and activity. Promoted options survive only
// when keepPromoted is set.
func (s *RoomState) Reset(keepPromoted bool, now int64) {
	promoted := s.PromotedOptions
	*s = NewRoomState(s.RoomID)
	if keepPromoted && promoted != nil {
		s.PromotedOptions = promoted
	}
	s.UpdatedAt = now
}

func (s RoomState) hostOnline() bool {
	if s.HostClientID == "" {
		return false
	}
	return s.Members[s.HostClientID].Online
}
