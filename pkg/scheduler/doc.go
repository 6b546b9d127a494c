// Package scheduler provides durable reminder scheduling for polls.
// Reminders are persisted before their timers are armed, reloaded on start,
// and dispatched by a single goroutine so each one is delivered once
package scheduler
