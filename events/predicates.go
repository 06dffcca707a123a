package events

func IsName(name Name) Predicate {
	return func(evt Event) bool {
		if evt == nil {
			return false
		}

		return evt.Name() == name
	}
}

func PartySettingsFor(partyID string) Predicate {
	return func(evt Event) bool {
		update, ok := evt.(PartySettingsUpdated)
		if !ok {
			return false
		}

		if partyID == "" {
			return true
		}

		return update.PartyID == partyID
	}
}

func PartyMemberChanged(userID string, flag MemberChange) Predicate {
	return func(evt Event) bool {
		update, ok := evt.(PartyMembersUpdated)
		if !ok {
			return false
		}

		for _, mu := range update.Updates {
			if userID != "" && mu.UserID != userID {
				continue
			}

			if flag == 0 || mu.Changes.Has(flag) {
				return true
			}
		}

		return false
	}
}

func PartyLeaderIs(partyID, leaderID string) Predicate {
	return func(evt Event) bool {
		change, ok := evt.(PartyLeaderChanged)
		if !ok {
			return false
		}

		if partyID != "" && change.PartyID != partyID {
			return false
		}

		return change.LeaderID == leaderID
	}
}

func GameFoundFor(matchmakerName string) Predicate {
	return func(evt Event) bool {
		found, ok := evt.(GameFound)
		if !ok {
			return false
		}

		if matchmakerName == "" {
			return true
		}

		return found.MatchmakerName == matchmakerName
	}
}

func InvitationFrom(senderID string) Predicate {
	return func(evt Event) bool {
		invite, ok := evt.(PartyInvitationReceived)
		if !ok {
			return false
		}

		if senderID == "" {
			return true
		}

		return invite.SenderID == senderID
	}
}
