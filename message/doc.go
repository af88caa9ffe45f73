// Package message defines the persistent message record shared by the
// store, forward, and retry packages.
//
// A Record moves through Pending -> Sent -> Delivered, or terminates at
// Failed; Delivered and Failed are absorbing states. Record itself is a
// plain value; TransitionTo enforces the monotone status ordering so any
// caller mutating a record's status goes through the same guard MessageStore
// relies on for its consistency invariant.
package message
