package maker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/pkg/llm"
	"maestro/pkg/models"
)

// tempKeyedCoder scripts coder outcomes by sampling temperature, which is
// unique per candidate, so parallel generation stays deterministic.
type tempKeyedCoder struct {
	responses map[string]scripted // key: "%.1f" of temperature
}

type scripted struct {
	content string
	err     error
}

func (c *tempKeyedCoder) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	key := fmt.Sprintf("%.1f", *input.Options.Temperature)
	r, ok := c.responses[key]
	if !ok {
		r = scripted{content: "default candidate body for " + key}
	}
	ch := make(chan llm.Chunk, 2)
	if r.err != nil {
		ch <- &llm.ErrorChunk{Err: r.err}
	} else {
		ch <- &llm.TextChunk{Content: r.content}
	}
	close(ch)
	return ch, nil
}

func (c *tempKeyedCoder) Close() error { return nil }

// queueVoter pops scripted ballots in call order. Calls beyond the queue
// block until cancellation (simulating slow voters that get cut off).
type queueVoter struct {
	mu      sync.Mutex
	ballots []string
	calls   int
}

func (v *queueVoter) Generate(ctx context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	v.mu.Lock()
	v.calls++
	var ballot string
	var has bool
	if len(v.ballots) > 0 {
		ballot, has = v.ballots[0], true
		v.ballots = v.ballots[1:]
	}
	v.mu.Unlock()

	ch := make(chan llm.Chunk, 1)
	if !has {
		go func() {
			<-ctx.Done()
			ch <- &llm.ErrorChunk{Err: ctx.Err()}
			close(ch)
		}()
		return ch, nil
	}
	ch <- &llm.TextChunk{Content: ballot}
	close(ch)
	return ch, nil
}

func (v *queueVoter) Close() error { return nil }

func baseMessages() []llm.Message {
	return []llm.Message{{Role: "user", Content: "implement the thing"}}
}

func TestGenerate_AllViable(t *testing.T) {
	coder := &tempKeyedCoder{responses: map[string]scripted{}}
	engine := New(coder, &queueVoter{}, 5, 3)

	candidates, err := engine.Generate(context.Background(), "t1", baseMessages())
	require.NoError(t, err)
	require.Len(t, candidates, 5)

	assert.Equal(t, "A", candidates[0].Label)
	assert.Equal(t, "E", candidates[4].Label)
	assert.InDelta(t, 0.3, candidates[0].Temperature, 1e-9)
	assert.InDelta(t, 0.7, candidates[4].Temperature, 1e-9)
	for _, c := range candidates {
		assert.True(t, c.Viable(), "candidate %s should be viable", c.Label)
	}
}

func TestGenerate_FiltersFailedEmptyShort(t *testing.T) {
	coder := &tempKeyedCoder{responses: map[string]scripted{
		"0.3": {content: "func main() { fmt.Println(42) }"},
		"0.4": {err: llm.NewAgentError("coder", llm.ErrAgentTimeout, 0, nil)},
		"0.5": {content: "   "},
		"0.6": {content: "short"},
		"0.7": {content: "another perfectly reasonable artifact"},
	}}
	engine := New(coder, &queueVoter{}, 5, 3)

	candidates, err := engine.Generate(context.Background(), "t1", baseMessages())
	require.NoError(t, err)

	assert.True(t, candidates[0].Viable())
	assert.Equal(t, "generation failed", candidates[1].FilterReason)
	assert.Equal(t, "empty output", candidates[2].FilterReason)
	assert.Equal(t, "output too short", candidates[3].FilterReason)
	assert.True(t, candidates[4].Viable())

	assert.Len(t, viable(candidates), 2)
}

func voteInput(candidates []models.Candidate) *VoteInput {
	return &VoteInput{
		TaskID:       "t1",
		SystemPrompt: "judge",
		Task:         "implement the thing",
		Plan:         "1. implement",
		Candidates:   candidates,
	}
}

func threeCandidates() []models.Candidate {
	return []models.Candidate{
		{Label: "A", Content: "candidate A body, long enough"},
		{Label: "B", Content: "candidate B body, long enough"},
		{Label: "C", Content: "candidate C body, long enough"},
	}
}

func fiveCandidates() []models.Candidate {
	return append(threeCandidates(),
		models.Candidate{Label: "D", Content: "candidate D body, long enough"},
		models.Candidate{Label: "E", Content: "candidate E body, long enough"},
	)
}

func TestVote_FirstToKTerminatesEarly(t *testing.T) {
	// K=3 → budget 5. Three quick B votes decide the round; the last two
	// voters never get an answer and must be cancelled, not waited for.
	voter := &queueVoter{ballots: []string{"B", "B", "B"}}
	engine := New(&tempKeyedCoder{}, voter, 5, 3)

	result, err := engine.Vote(context.Background(), voteInput(fiveCandidates()))
	require.NoError(t, err)
	assert.Equal(t, "B", result.Winner)

	scored := 0
	for _, v := range result.Votes {
		if v.Choice == "B" {
			scored++
		}
	}
	assert.GreaterOrEqual(t, scored, 3)
	assert.Equal(t, 5, voter.calls, "all voters launch in parallel")
}

func TestVote_AbstentionsConsumeBudget(t *testing.T) {
	// K=2 → budget 3. One abstention plus two A votes: A wins at 2.
	voter := &queueVoter{ballots: []string{"ABSTAIN", "A", "A"}}
	engine := New(&tempKeyedCoder{}, voter, 5, 2)

	result, err := engine.Vote(context.Background(), voteInput(threeCandidates()))
	require.NoError(t, err)
	assert.Equal(t, "A", result.Winner)

	abstained := 0
	for _, v := range result.Votes {
		if v.Abstained {
			abstained++
		}
	}
	assert.Equal(t, 1, abstained)
}

func TestVote_TallyMaxTiebreakByLaunchOrder(t *testing.T) {
	// K=3 → budget 5, votes split 1/1/1 with two abstentions: nobody
	// reaches K, and the launch-order tiebreak picks A.
	voter := &queueVoter{ballots: []string{"C", "B", "A", "ABSTAIN", "ABSTAIN"}}
	engine := New(&tempKeyedCoder{}, voter, 5, 3)

	result, err := engine.Vote(context.Background(), voteInput(fiveCandidates()))
	require.NoError(t, err)
	assert.Equal(t, "A", result.Winner)
	assert.Len(t, result.Votes, 5)
}

func TestVote_AllAbstainDefaultsToFirstViable(t *testing.T) {
	voter := &queueVoter{ballots: []string{"ABSTAIN", "ABSTAIN", "ABSTAIN"}}
	engine := New(&tempKeyedCoder{}, voter, 5, 2)

	result, err := engine.Vote(context.Background(), voteInput(threeCandidates()))
	require.NoError(t, err)
	assert.Equal(t, "A", result.Winner)
}

func TestVote_SingleViableSkipsVoting(t *testing.T) {
	voter := &queueVoter{}
	engine := New(&tempKeyedCoder{}, voter, 5, 3)

	candidates := []models.Candidate{
		{Label: "A", Error: "boom", FilterReason: "generation failed"},
		{Label: "B", Content: "the only survivor, long enough"},
		{Label: "C", FilterReason: "empty output"},
	}
	result, err := engine.Vote(context.Background(), voteInput(candidates))
	require.NoError(t, err)
	assert.Equal(t, "B", result.Winner)
	assert.Empty(t, result.Votes)
	assert.Zero(t, voter.calls)
}

func TestVote_FewerThanKPlusOneSkipsVoting(t *testing.T) {
	// First-to-K needs at least K+1 contenders to be a contest. Two
	// survivors with K=3 go straight to the earliest one, spending no
	// voter budget.
	voter := &queueVoter{}
	engine := New(&tempKeyedCoder{}, voter, 5, 3)

	candidates := []models.Candidate{
		{Label: "A", FilterReason: "generation failed", Error: "timeout"},
		{Label: "B", Content: "surviving candidate body, long enough"},
		{Label: "C", FilterReason: "empty output"},
		{Label: "D", Content: "another surviving candidate body"},
		{Label: "E", FilterReason: "output too short"},
	}
	result, err := engine.Vote(context.Background(), voteInput(candidates))
	require.NoError(t, err)
	assert.Equal(t, "B", result.Winner)
	assert.Empty(t, result.Votes)
	assert.Zero(t, voter.calls)
}

func TestVote_ExhaustedPool(t *testing.T) {
	engine := New(&tempKeyedCoder{}, &queueVoter{}, 5, 3)

	candidates := []models.Candidate{
		{Label: "A", FilterReason: "generation failed", Error: "timeout"},
		{Label: "B", FilterReason: "empty output"},
	}
	_, err := engine.Vote(context.Background(), voteInput(candidates))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCandidateExhaustion)

	var exhaustion *ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	assert.Len(t, exhaustion.Reasons, 2)
}

func TestVote_VoterFailuresAreAbstentions(t *testing.T) {
	// Failing voters consume budget. With K=2 (budget 3): one failure,
	// then two B votes.
	voter := &failingFirstVoter{inner: &queueVoter{ballots: []string{"B", "B"}}}
	engine := New(&tempKeyedCoder{}, voter, 5, 2)

	result, err := engine.Vote(context.Background(), voteInput(threeCandidates()))
	require.NoError(t, err)
	assert.Equal(t, "B", result.Winner)
}

// failingFirstVoter fails its first call and delegates the rest.
type failingFirstVoter struct {
	mu     sync.Mutex
	failed bool
	inner  *queueVoter
}

func (v *failingFirstVoter) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	v.mu.Lock()
	first := !v.failed
	v.failed = true
	v.mu.Unlock()
	if first {
		return nil, llm.NewAgentError("voter", llm.ErrAgentUnavailable, 503, errors.New("down"))
	}
	return v.inner.Generate(ctx, input)
}

func (v *failingFirstVoter) Close() error { return nil }

func TestParseBallot(t *testing.T) {
	labels := map[string]bool{"A": true, "B": true, "C": true}

	tests := []struct {
		name     string
		response string
		expected string
	}{
		{name: "bare label", response: "B", expected: "B"},
		{name: "label with period", response: "B.", expected: "B"},
		{name: "markdown bold", response: "**C**", expected: "C"},
		{name: "candidate prefix", response: "Candidate B", expected: "B"},
		{name: "prose answer", response: "The best option is clearly B because it handles errors.", expected: "B"},
		{name: "explicit abstain", response: "ABSTAIN", expected: ""},
		{name: "abstain with prose", response: "abstain — none are acceptable", expected: ""},
		{name: "unknown label", response: "Z", expected: ""},
		{name: "gibberish", response: "I cannot decide at all!!", expected: ""},
		{name: "empty", response: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseBallot(tt.response, labels))
		})
	}
}
