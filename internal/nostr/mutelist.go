package nostr

import "strings"

// MuteList is a recipient's parsed kind-10000 list. Hashtags and words
// are stored lower-cased; matching against event content is
// case-insensitive.
type MuteList struct {
	Pubkeys  map[string]struct{}
	EventIDs map[string]struct{}
	Hashtags map[string]struct{}
	Words    []string
}

// ParseMuteList extracts the public portion of a mute-list event. A nil
// event yields an empty list, which mutes nothing.
func ParseMuteList(e *Event) *MuteList {
	m := &MuteList{
		Pubkeys:  make(map[string]struct{}),
		EventIDs: make(map[string]struct{}),
		Hashtags: make(map[string]struct{}),
	}
	if e == nil {
		return m
	}
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}
		switch tag[0] {
		case "p":
			m.Pubkeys[tag[1]] = struct{}{}
		case "e":
			m.EventIDs[tag[1]] = struct{}{}
		case "t":
			m.Hashtags[strings.ToLower(tag[1])] = struct{}{}
		case "word":
			m.Words = append(m.Words, strings.ToLower(tag[1]))
		}
	}
	return m
}

// MutesAuthor reports whether the list mutes the given pubkey.
func (m *MuteList) MutesAuthor(pubkey string) bool {
	_, ok := m.Pubkeys[pubkey]
	return ok
}

// MutesEvent reports whether the list mutes any of the given event ids.
func (m *MuteList) MutesEvent(ids ...string) bool {
	for _, id := range ids {
		if _, ok := m.EventIDs[id]; ok {
			return true
		}
	}
	return false
}

// MutesHashtag reports whether the list mutes any of the given
// hashtags, compared case-insensitively.
func (m *MuteList) MutesHashtag(tags ...string) bool {
	for _, t := range tags {
		if _, ok := m.Hashtags[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

// MutesContent reports whether any muted word occurs as a
// case-insensitive substring of the given content.
func (m *MuteList) MutesContent(content string) bool {
	if len(m.Words) == 0 {
		return false
	}
	lowered := strings.ToLower(content)
	for _, w := range m.Words {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

// FollowSet is a recipient's parsed kind-3 contact list.
type FollowSet struct {
	Pubkeys map[string]struct{}
}

// ParseContactList extracts the followed pubkeys from a contact-list
// event. A nil event yields an empty set.
func ParseContactList(e *Event) *FollowSet {
	f := &FollowSet{Pubkeys: make(map[string]struct{})}
	if e == nil {
		return f
	}
	for _, pk := range e.ReferencedPubkeys() {
		f.Pubkeys[pk] = struct{}{}
	}
	return f
}

// Follows reports whether the set contains the given pubkey.
func (f *FollowSet) Follows(pubkey string) bool {
	_, ok := f.Pubkeys[pubkey]
	return ok
}
