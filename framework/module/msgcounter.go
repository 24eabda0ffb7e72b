package module

import "sync/atomic"

// appendedMessages is the global counter for messages appended across
// every storage backend in this process. It is incremented after each
// committed APPEND and can be restored from persisted storage on
// startup the way a backend restores any other counter.
var appendedMessages atomic.Int64

// expungedMessages counts messages removed by a committed EXPUNGE.
var expungedMessages atomic.Int64

// IncrementAppended atomically adds 1 to the global appended-message counter.
func IncrementAppended() {
	appendedMessages.Add(1)
}

// GetAppended returns the current value of the appended-message counter.
func GetAppended() int64 {
	return appendedMessages.Load()
}

// SetAppended sets the counter to a specific value, used by a backend to
// restore its persisted count on startup.
func SetAppended(n int64) {
	appendedMessages.Store(n)
}

// IncrementExpunged atomically adds 1 to the global expunged-message counter.
func IncrementExpunged() {
	expungedMessages.Add(1)
}

// GetExpunged returns the current value of the expunged-message counter.
func GetExpunged() int64 {
	return expungedMessages.Load()
}

// SetExpunged sets the counter to a specific value, used by a backend to
// restore its persisted count on startup.
func SetExpunged(n int64) {
	expungedMessages.Store(n)
}
