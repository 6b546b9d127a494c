// Package messages builds the HTML text the bot sends: poll bodies, result
// reports, reminders, pickers and user-facing error descriptions
package messages
