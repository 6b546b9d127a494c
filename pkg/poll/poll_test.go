package poll

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/korjavin/whenwemeet/pkg/clock"
	"github.com/korjavin/whenwemeet/pkg/models"
	"github.com/korjavin/whenwemeet/pkg/storage"
)

var now = time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *clock.Fake, storage.Store) {
	t.Helper()
	store, err := storage.NewBadgerInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	clk := clock.NewFake(now)
	return New(store, clk), clk, store
}

func createPoll(t *testing.T, s *Service, options int, expires *time.Time) *models.Poll {
	t.Helper()
	opts := make([]string, options)
	for i := range opts {
		opts[i] = string(rune('A' + i))
	}
	p, err := s.Create(context.Background(), NewPoll{
		ChannelID: "-100",
		GuildID:   "-100",
		CreatorID: "owner",
		Title:     "Sync",
		Kind:      models.KindRanged,
		Options:   opts,
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestCreateRejectsEmptyOptions(t *testing.T) {
	s, _, _ := setup(t)
	if _, err := s.Create(context.Background(), NewPoll{Title: "x"}); !errors.Is(err, ErrNoOptions) {
		t.Errorf("err = %v, want ErrNoOptions", err)
	}
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 3, nil)

	if _, err := s.ToggleVote(ctx, p.ID, "u2", 2); err != nil {
		t.Fatal(err)
	}
	before, err := s.Tally(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	a1, err := s.ToggleVote(ctx, p.ID, "u1", 1)
	if err != nil || a1 != ActionCast {
		t.Fatalf("first toggle = %v, %v", a1, err)
	}
	a2, err := s.ToggleVote(ctx, p.ID, "u1", 1)
	if err != nil || a2 != ActionWithdrawn {
		t.Fatalf("second toggle = %v, %v", a2, err)
	}

	after, err := s.Tally(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("tally before %v, after %v", before, after)
	}
}

func TestCastCastWithdraw(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 3, nil)

	steps := []struct {
		index int
		want  Action
	}{
		{0, ActionCast},
		{1, ActionCast},
		{0, ActionWithdrawn},
	}
	for _, st := range steps {
		got, err := s.ToggleVote(ctx, p.ID, "u1", st.index)
		if err != nil {
			t.Fatalf("toggle %d: %v", st.index, err)
		}
		if got != st.want {
			t.Errorf("toggle %d = %s, want %s", st.index, got, st.want)
		}
	}

	tally, err := s.Tally(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := Tally{{}, {"u1"}, {}}
	if !reflect.DeepEqual(tally, want) {
		t.Errorf("tally = %v, want %v", tally, want)
	}
}

func TestReplaceThenTally(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 4, nil)

	s.ToggleVote(ctx, p.ID, "u1", 0)
	s.ToggleVote(ctx, p.ID, "u1", 3)
	s.ToggleVote(ctx, p.ID, "u2", 1)

	if err := s.ReplaceVotes(ctx, p.ID, "u1", []int{1, 2}); err != nil {
		t.Fatalf("ReplaceVotes: %v", err)
	}
	tally, err := s.Tally(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	for i, voters := range tally {
		has := false
		for _, v := range voters {
			if v == "u1" {
				has = true
			}
		}
		want := i == 1 || i == 2
		if has != want {
			t.Errorf("u1 at index %d = %v, want %v (tally %v)", i, has, want, tally)
		}
	}
	if !reflect.DeepEqual(tally[1], []string{"u2", "u1"}) {
		t.Errorf("index 1 voters = %v, want vote order [u2 u1]", tally[1])
	}
}

func TestReplaceVotesGuards(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 2, nil)

	if err := s.ReplaceVotes(ctx, p.ID, "u1", nil); !errors.Is(err, ErrEmptySelection) {
		t.Errorf("empty selection err = %v", err)
	}
	if err := s.ReplaceVotes(ctx, p.ID, "u1", []int{0, 5}); !errors.Is(err, ErrOptionOutOfRange) {
		t.Errorf("out of range err = %v", err)
	}
	tally, _ := s.Tally(ctx, p.ID)
	if tally.Total() != 0 {
		t.Errorf("rejected ballot mutated ledger: %v", tally)
	}
}

func TestToggleFailsBeforeMutating(t *testing.T) {
	s, clk, _ := setup(t)
	ctx := context.Background()
	expires := now.Add(time.Hour)
	p := createPoll(t, s, 2, &expires)

	if _, err := s.ToggleVote(ctx, p.ID+42, "u1", 0); !errors.Is(err, ErrPollNotFound) {
		t.Errorf("missing poll err = %v", err)
	}
	if _, err := s.ToggleVote(ctx, p.ID, "u1", 2); !errors.Is(err, ErrOptionOutOfRange) {
		t.Errorf("out of range err = %v", err)
	}

	clk.Advance(2 * time.Hour)
	if _, err := s.ToggleVote(ctx, p.ID, "u1", 0); !errors.Is(err, ErrPollExpired) {
		t.Errorf("expired err = %v", err)
	}
	tally, _ := s.Tally(ctx, p.ID)
	if tally.Total() != 0 {
		t.Errorf("failed toggles mutated ledger: %v", tally)
	}
}

func TestSnapshotFollowsLedger(t *testing.T) {
	s, _, store := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 2, nil)

	s.ToggleVote(ctx, p.ID, "u1", 1)
	s.ToggleVote(ctx, p.ID, "u2", 1)

	got, err := store.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int][]string{0: {}, 1: {"u1", "u2"}}
	if !reflect.DeepEqual(got.VoteSnapshot, want) {
		t.Errorf("snapshot = %v, want %v", got.VoteSnapshot, want)
	}

	if err := store.UpdateVoteSnapshot(ctx, p.ID, map[int][]string{0: {"ghost"}}); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := s.RebuildSnapshot(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetPoll(ctx, p.ID)
	if !reflect.DeepEqual(got.VoteSnapshot, Snapshot(rebuilt)) || !reflect.DeepEqual(got.VoteSnapshot, want) {
		t.Errorf("rebuilt snapshot = %v", got.VoteSnapshot)
	}
}

func TestMostPopular(t *testing.T) {
	tests := []struct {
		name  string
		tally Tally
		want  []int
	}{
		{"all zero", Tally{{}, {}, {}}, []int{}},
		{"single leader", Tally{{"a"}, {"a", "b"}, {}}, []int{1}},
		{"tie", Tally{{"a", "b"}, {"c"}, {"d", "e"}}, []int{0, 2}},
		{"empty", Tally{}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MostPopular(tt.tally); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MostPopular = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloseAndDeleteRequireCreator(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 2, nil)
	s.ToggleVote(ctx, p.ID, "u1", 0)

	if _, err := s.Close(ctx, p.ID, "intruder"); !errors.Is(err, ErrNotCreator) {
		t.Errorf("Close by non-creator err = %v", err)
	}
	tally, err := s.Close(ctx, p.ID, "owner")
	if err != nil || tally.Total() != 1 {
		t.Fatalf("Close = %v, %v", tally, err)
	}
	if _, err := s.ToggleVote(ctx, p.ID, "u2", 0); !errors.Is(err, ErrPollClosed) {
		t.Errorf("vote on closed poll err = %v", err)
	}

	if _, err := s.Delete(ctx, p.ID, "intruder"); !errors.Is(err, ErrNotCreator) {
		t.Errorf("Delete by non-creator err = %v", err)
	}
	if _, err := s.Delete(ctx, p.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, p.ID); !errors.Is(err, ErrPollNotFound) {
		t.Errorf("deleted poll err = %v", err)
	}
}

func TestResults(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 3, nil)
	s.ToggleVote(ctx, p.ID, "u1", 2)
	s.ToggleVote(ctx, p.ID, "u2", 2)
	s.ToggleVote(ctx, p.ID, "u1", 0)

	r, err := s.Results(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Ranked[0].Index != 2 || r.Ranked[1].Index != 0 || r.Ranked[2].Index != 1 {
		t.Errorf("ranked = %+v", r.Ranked)
	}
	if !reflect.DeepEqual(r.ByVoter["u1"], []int{0, 2}) {
		t.Errorf("u1 choices = %v", r.ByVoter["u1"])
	}
	if !reflect.DeepEqual(r.Winners, []int{2}) {
		t.Errorf("winners = %v", r.Winners)
	}

	voters, err := s.VotersAt(ctx, p.ID, 2)
	if err != nil || !reflect.DeepEqual(voters, []string{"u1", "u2"}) {
		t.Errorf("VotersAt = %v, %v", voters, err)
	}
}

func TestResultsRepairsSnapshot(t *testing.T) {
	s, _, store := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 2, nil)
	s.ToggleVote(ctx, p.ID, "u1", 0)
	s.ToggleVote(ctx, p.ID, "u2", 0)

	if err := store.UpdateVoteSnapshot(ctx, p.ID, map[int][]string{1: {"ghost"}}); err != nil {
		t.Fatal(err)
	}
	r, err := s.Results(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int][]string{0: {"u1", "u2"}, 1: {}}
	stored, err := store.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(stored.VoteSnapshot, want) {
		t.Errorf("stored snapshot = %v, want %v", stored.VoteSnapshot, want)
	}
	if !reflect.DeepEqual(r.Poll.VoteSnapshot, want) {
		t.Errorf("reported snapshot = %v, want %v", r.Poll.VoteSnapshot, want)
	}
}

func TestConcurrentVotersDoNotLoseUpdates(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	p := createPoll(t, s, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter := string(rune('a' + i))
			if _, err := s.ToggleVote(ctx, p.ID, voter, i%2); err != nil {
				t.Errorf("toggle: %v", err)
			}
		}(i)
	}
	wg.Wait()

	tally, err := s.Tally(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tally[0]) != 10 || len(tally[1]) != 10 {
		t.Errorf("counts = %v", tally.Counts())
	}
}
