package poll

import (
	"context"
	"sort"

	"github.com/korjavin/whenwemeet/pkg/models"
)

// Tally holds, per option index, the distinct voter ids in vote order
type Tally [][]string

// Counts returns the number of voters per option
func (t Tally) Counts() []int {
	out := make([]int, len(t))
	for i, voters := range t {
		out[i] = len(voters)
	}
	return out
}

// Total is the number of (voter, option) pairs
func (t Tally) Total() int {
	n := 0
	for _, voters := range t {
		n += len(voters)
	}
	return n
}

// Voters returns every distinct voter, ordered by lowest option then vote time
func (t Tally) Voters() []string {
	seen := make(map[string]bool)
	var out []string
	for _, voters := range t {
		for _, v := range voters {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func tallyFrom(options int, votes []models.Vote) Tally {
	t := make(Tally, options)
	seen := make([]map[string]bool, options)
	for i := range t {
		t[i] = []string{}
		seen[i] = make(map[string]bool)
	}
	for _, v := range votes {
		if v.OptionIndex < 0 || v.OptionIndex >= options || seen[v.OptionIndex][v.VoterID] {
			continue
		}
		seen[v.OptionIndex][v.VoterID] = true
		t[v.OptionIndex] = append(t[v.OptionIndex], v.VoterID)
	}
	return t
}

// Snapshot converts a tally to the map stored on the poll row
func Snapshot(t Tally) map[int][]string {
	out := make(map[int][]string, len(t))
	for i, voters := range t {
		if voters == nil {
			voters = []string{}
		}
		out[i] = append([]string{}, voters...)
	}
	return out
}

// MostPopular returns every option index sharing the highest non-zero count
func MostPopular(t Tally) []int {
	best := 0
	for _, voters := range t {
		if len(voters) > best {
			best = len(voters)
		}
	}
	if best == 0 {
		return []int{}
	}
	var out []int
	for i, voters := range t {
		if len(voters) == best {
			out = append(out, i)
		}
	}
	return out
}

// OptionResult is one row of a results report
type OptionResult struct {
	Index  int
	Label  string
	Voters []string
}

// Results is the full report of a poll
type Results struct {
	Poll    *models.Poll
	Tally   Tally
	Ranked  []OptionResult   // by count descending, then index
	ByVoter map[string][]int // voter -> chosen indices
	Voters  []string         // distinct voters in Tally.Voters order
	Winners []int
}

// Results builds the report behind /tbc. The stored snapshot is refreshed
// from the ledger on the way
func (s *Service) Results(ctx context.Context, pollID int64) (*Results, error) {
	t, err := s.RebuildSnapshot(ctx, pollID)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}

	r := &Results{
		Poll:    p,
		Tally:   t,
		ByVoter: make(map[string][]int),
		Voters:  t.Voters(),
		Winners: MostPopular(t),
	}
	for i, voters := range t {
		r.Ranked = append(r.Ranked, OptionResult{Index: i, Label: p.Options[i], Voters: voters})
		for _, v := range voters {
			r.ByVoter[v] = append(r.ByVoter[v], i)
		}
	}
	sort.SliceStable(r.Ranked, func(i, j int) bool {
		return len(r.Ranked[i].Voters) > len(r.Ranked[j].Voters)
	})
	return r, nil
}
