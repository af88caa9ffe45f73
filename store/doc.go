// Package store implements MessageStore: an embedded, transactional log of
// messages and friends backed by SQLite.
//
// All writes go through withWriter, which lets at most writerPoolSize (4)
// write transactions run at once; reads that feed a UI are exposed as
// observable streams (ObserveAll, ObserveConversation) built on top of a
// dirty-flag-driven poller rather than SQLite change hooks, since
// database/sql gives no portable notification primitive.
package store
