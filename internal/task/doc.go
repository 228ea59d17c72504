// Package task implements the one-shot asynchronous computation used by the
// resolution engine. A Task runs its unit of work on its own goroutine, settles
// exactly once with a Result, and fans the outcome out to listeners on a single
// delivery goroutine (the Looper). Listeners added after settlement are also
// invoked synchronously on the registering goroutine, so callbacks must be
// idempotent.
package task
