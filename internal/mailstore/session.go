package mailstore

import "github.com/tidemail/store/framework/log"

// Session is the per-connection handle a MailboxManager hands back from
// OpenSession. It tracks which UIDs this particular session has already
// observed carrying \Recent, since \Recent is a per-session claim, not a
// durable message property: once any session has seen a message as
// Recent, no other session should see it that way again.
type Session struct {
	User string
	Open bool
	Log  log.Logger

	recentSeen map[string]map[uint32]bool
}

// NewSession constructs an open session for user.
func NewSession(user string, logger log.Logger) *Session {
	return &Session{
		User:       user,
		Open:       true,
		Log:        logger,
		recentSeen: make(map[string]map[uint32]bool),
	}
}

// ClaimRecent returns the subset of uids this session has not yet observed
// as Recent for path, then marks them observed so a later call — by this
// session or reported from the backend again — won't reclaim them.
func (s *Session) ClaimRecent(path string, uids []uint32) []uint32 {
	seen, ok := s.recentSeen[path]
	if !ok {
		seen = make(map[uint32]bool, len(uids))
		s.recentSeen[path] = seen
	}

	claimed := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		claimed = append(claimed, uid)
	}
	return claimed
}

// Close marks the session no longer open. MailboxManager implementations
// should stop dispatching to any listener this session registered once
// Close returns.
func (s *Session) Close() error {
	s.Open = false
	return nil
}
