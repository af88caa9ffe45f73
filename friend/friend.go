package friend

import "time"

// Friend is a FriendRecord: a device the engine has exchanged messages
// with or been introduced to by the UI.
type Friend struct {
	UserID        string
	Nickname      string
	EndpointID    string
	LastSeen      time.Time
	Added         time.Time
	IsOnline      bool
	TotalMessages int
	IsFavorite    bool
}

// LastSeenDuration returns how long ago the friend was last seen online.
func (f Friend) LastSeenDuration(now time.Time) time.Duration {
	return now.Sub(f.LastSeen)
}
