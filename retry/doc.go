// Package retry implements RetryScheduler: exponential-backoff redelivery
// of outgoing messages that had no connected peer at send time, immediate
// retry on reconnect, and garbage collection of stale retry state.
package retry
