// Package interaction routes chat commands, button presses and typed replies
// to the poll, session and reminder services, and renders the outcome
// through a platform Renderer
package interaction
