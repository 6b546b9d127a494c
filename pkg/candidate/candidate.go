package candidate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxCandidates is the largest option list a poll may carry
const MaxCandidates = 50

// ErrTooManyCandidates is matched by every *TooManyCandidatesError
var ErrTooManyCandidates = errors.New("too many candidates")

// InvalidInputError lists every token that failed to parse
type InvalidInputError struct {
	Tokens []string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if len(e.Tokens) == 0 {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %s: %s", strings.Join(e.Tokens, ", "), e.Reason)
}

// TooManyCandidatesError carries the size the request would have produced
type TooManyCandidatesError struct {
	Count int
}

func (e *TooManyCandidatesError) Error() string {
	return fmt.Sprintf("%d candidates requested, limit is %d", e.Count, MaxCandidates)
}

func (e *TooManyCandidatesError) Unwrap() error {
	return ErrTooManyCandidates
}

// Candidate is one poll option. Minute is the minute of day for ranged
// candidates and -1 for slot candidates
type Candidate struct {
	Date   Date
	Minute int
	Slot   Slot
	Label  string
}

// Labels projects the display labels in order
func Labels(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Label
	}
	return out
}

// ParseTimes splits "0900/1800", "0900,1800" or "0900 1800" into tokens
func ParseTimes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// FromRange produces one candidate per date in [from, to] and time token,
// ordered by date then time
func FromRange(from, to Date, tokens []string) ([]Candidate, error) {
	if from.After(to) {
		return nil, &InvalidInputError{
			Tokens: []string{from.String(), to.String()},
			Reason: "start date is after end date",
		}
	}

	var invalid []string
	seen := make(map[int]bool)
	var minutes []int
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		m, ok := parseClock(tok)
		if !ok {
			invalid = append(invalid, tok)
			continue
		}
		if !seen[m] {
			seen[m] = true
			minutes = append(minutes, m)
		}
	}
	if len(invalid) > 0 {
		return nil, &InvalidInputError{Tokens: invalid, Reason: "times must be HHMM, HMM or HH:MM"}
	}
	if len(minutes) == 0 {
		return nil, &InvalidInputError{Reason: "no times given"}
	}
	sort.Ints(minutes)

	days := DaysBetween(from, to)
	if n := days * len(minutes); n > MaxCandidates {
		return nil, &TooManyCandidatesError{Count: n}
	}

	out := make([]Candidate, 0, days*len(minutes))
	for d := 0; d < days; d++ {
		date := from.AddDays(d)
		for _, m := range minutes {
			out = append(out, Candidate{
				Date:   date,
				Minute: m,
				Label:  fmt.Sprintf("%s %02d:%02d", date.Short(), m/60, m%60),
			})
		}
	}
	return out, nil
}

// FromCalendar produces one candidate per distinct date and slot, ordered
// by date then slot time-of-day
func FromCalendar(dates []Date, slots []Slot) ([]Candidate, error) {
	var invalid []string
	slotSet := make(map[Slot]bool)
	for _, s := range slots {
		if s.order() < 0 {
			invalid = append(invalid, string(s))
			continue
		}
		slotSet[s] = true
	}
	if len(invalid) > 0 {
		return nil, &InvalidInputError{Tokens: invalid, Reason: "unknown time slot"}
	}
	if len(slotSet) == 0 {
		return nil, &InvalidInputError{Reason: "no time slots given"}
	}

	dateSet := make(map[Date]bool)
	uniqDates := make([]Date, 0, len(dates))
	for _, d := range dates {
		if !dateSet[d] {
			dateSet[d] = true
			uniqDates = append(uniqDates, d)
		}
	}
	if len(uniqDates) == 0 {
		return nil, &InvalidInputError{Reason: "no dates given"}
	}
	sort.Slice(uniqDates, func(i, j int) bool { return uniqDates[i].Before(uniqDates[j]) })

	uniqSlots := make([]Slot, 0, len(slotSet))
	for _, s := range AllSlots {
		if slotSet[s] {
			uniqSlots = append(uniqSlots, s)
		}
	}

	if n := len(uniqDates) * len(uniqSlots); n > MaxCandidates {
		return nil, &TooManyCandidatesError{Count: n}
	}

	out := make([]Candidate, 0, len(uniqDates)*len(uniqSlots))
	for _, d := range uniqDates {
		for _, s := range uniqSlots {
			out = append(out, Candidate{
				Date:   d,
				Minute: -1,
				Slot:   s,
				Label:  d.Short() + " " + s.Label(),
			})
		}
	}
	return out, nil
}

// parseClock reads HHMM, HMM or HH:MM into a minute of day
func parseClock(tok string) (int, bool) {
	var hh, mm string
	if i := strings.IndexByte(tok, ':'); i >= 0 {
		hh, mm = tok[:i], tok[i+1:]
		if len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
			return 0, false
		}
	} else {
		if len(tok) != 3 && len(tok) != 4 {
			return 0, false
		}
		hh, mm = tok[:len(tok)-2], tok[len(tok)-2:]
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 || !allDigits(hh) {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || !allDigits(mm) {
		return 0, false
	}
	return h*60 + m, true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
