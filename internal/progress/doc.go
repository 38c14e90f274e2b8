// Package progress carries the run event stream: RUN_STATUS transitions,
// RUN_PROGRESS per identifier and ITEM_DONE outcomes. A Hub batches events off
// the run goroutine and hands them to sinks for logging, metrics, history and
// notifications.
package progress
