package friend

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Akrittt/dtmesh/store"
)

// Directory wraps a store.DB and exposes the friend CRUD surface the
// engine's up-calls delegate to.
type Directory struct {
	db *store.DB
}

// NewDirectory constructs a Directory backed by db.
func NewDirectory(db *store.DB) *Directory {
	return &Directory{db: db}
}

// Add creates a new friend entry. If userID already exists, its nickname
// is overwritten and its endpoint ID and last-seen time are reset; its
// added time, counters and flags are kept.
func (d *Directory) Add(ctx context.Context, userID, nickname string) (Friend, error) {
	now := time.Now()
	row := &store.FriendRow{
		UserID:   userID,
		Nickname: nickname,
		AddedMs:  now.UnixMilli(),
	}
	if err := d.db.UpsertFriend(ctx, row); err != nil {
		return Friend{}, err
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "nickname": nickname}).Info("friend: added")
	return rowToFriend(row), nil
}

// Remove deletes a friend entry.
func (d *Directory) Remove(ctx context.Context, userID string) error {
	if err := d.db.DeleteFriend(ctx, userID); err != nil {
		return err
	}
	logrus.WithField("user_id", userID).Info("friend: removed")
	return nil
}

// Rename updates a friend's nickname.
func (d *Directory) Rename(ctx context.Context, userID, nickname string) error {
	return d.db.Rename(ctx, userID, nickname)
}

// Favorite sets or clears a friend's favorite flag.
func (d *Directory) Favorite(ctx context.Context, userID string, favorite bool) error {
	return d.db.SetFavorite(ctx, userID, favorite)
}

// IncrementMessages bumps a friend's message counter, called by the
// Forwarder for the sender of each delivered inbound text and for the
// recipient of each text sent to a connected peer.
func (d *Directory) IncrementMessages(ctx context.Context, userID string) error {
	return d.db.IncrementMessages(ctx, userID)
}

// SetOnline updates a friend's transient connectivity state, called by
// EngineCoordinator on PeerConnected/PeerDisconnected transport events.
func (d *Directory) SetOnline(ctx context.Context, userID string, online bool, endpointID string) error {
	err := d.db.SetOnline(ctx, userID, online, endpointID, time.Now().UnixMilli())
	logrus.WithFields(logrus.Fields{
		"user_id": userID, "online": online, "endpoint_id": endpointID,
	}).Debug("friend: connection status updated")
	return err
}

// List returns every friend, favorites first then by nickname.
func (d *Directory) List(ctx context.Context) ([]Friend, error) {
	rows, err := d.db.ListFriends(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Friend, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToFriend(r))
	}
	return out, nil
}

func rowToFriend(r *store.FriendRow) Friend {
	return Friend{
		UserID:        r.UserID,
		Nickname:      r.Nickname,
		EndpointID:    r.EndpointID,
		LastSeen:      time.UnixMilli(r.LastSeenMs),
		Added:         time.UnixMilli(r.AddedMs),
		IsOnline:      r.IsOnline,
		TotalMessages: r.TotalMessages,
		IsFavorite:    r.IsFavorite,
	}
}
