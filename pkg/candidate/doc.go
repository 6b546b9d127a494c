// Package candidate turns a date range plus time tokens, or a set of calendar
// dates plus named day slots, into the ordered option list of a meeting poll.
// Candidates keep their structured date and time alongside the display label
// so later stages never have to parse labels back
package candidate
