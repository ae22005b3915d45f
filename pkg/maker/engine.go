// Package maker implements candidate generation and first-to-K voting:
// N coder generations at staggered temperatures, filtered for viability,
// then judged by up to 2K-1 voter calls with early termination once a
// candidate reaches K votes.
package maker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"maestro/pkg/llm"
	"maestro/pkg/models"
)

const (
	// baseTemperature and temperatureStep stagger candidate sampling:
	// candidate i generates at baseTemperature + i*temperatureStep, so the
	// pool spans conservative to exploratory outputs.
	baseTemperature = 0.3
	temperatureStep = 0.1

	// minViableChars filters degenerate candidates. Anything shorter
	// cannot be a real code artifact.
	minViableChars = 20

	// abstainToken is the voter's explicit no-choice answer.
	abstainToken = "ABSTAIN"
)

// candidateLabels caps N at 26; the config validator never allows more.
const candidateLabels = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Engine runs MAKER rounds for one pipeline.
type Engine struct {
	coder llm.Client
	voter llm.Client

	numCandidates int
	voteK         int

	// OnEvent, when set, receives human-readable progress lines that the
	// pipeline forwards to the client stream.
	OnEvent func(msg string)

	log *slog.Logger
}

// New creates a MAKER engine. numCandidates and voteK are assumed
// validated (N ≥ 2, K ≥ 1).
func New(coder, voter llm.Client, numCandidates, voteK int) *Engine {
	if numCandidates > len(candidateLabels) {
		numCandidates = len(candidateLabels)
	}
	return &Engine{
		coder:         coder,
		voter:         voter,
		numCandidates: numCandidates,
		voteK:         voteK,
		log:           slog.With("component", "maker"),
	}
}

func (e *Engine) event(format string, args ...any) {
	if e.OnEvent != nil {
		e.OnEvent(fmt.Sprintf(format, args...))
	}
}

// Generate produces the candidate pool: numCandidates parallel coder calls
// over the same conversation at staggered temperatures. Individual
// failures become non-viable candidates rather than errors; only caller
// cancellation aborts the round.
func (e *Engine) Generate(ctx context.Context, taskID string, messages []llm.Message) ([]models.Candidate, error) {
	candidates := make([]models.Candidate, e.numCandidates)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.numCandidates; i++ {
		temp := baseTemperature + float64(i)*temperatureStep
		candidates[i] = models.Candidate{
			Label:       string(candidateLabels[i]),
			Temperature: temp,
		}
		g.Go(func() error {
			result, err := llm.Collect(gctx, e.coder, &llm.GenerateInput{
				TaskID:   taskID,
				Agent:    "coder",
				Messages: messages,
				Options:  llm.Options{Temperature: &temp},
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				candidates[i].Error = err.Error()
				e.event("candidate %s failed: %s", candidates[i].Label, llm.ErrorKind(err))
				return nil
			}
			candidates[i].Content = result.Content
			e.event("candidate %s generated (%d chars, temp %.1f)", candidates[i].Label, len(result.Content), temp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	filterCandidates(candidates)
	return candidates, nil
}

// filterCandidates marks non-viable candidates: generation failures,
// empty output, and outputs too short to be artifacts.
func filterCandidates(candidates []models.Candidate) {
	for i := range candidates {
		c := &candidates[i]
		switch {
		case c.Error != "":
			c.FilterReason = "generation failed"
		case strings.TrimSpace(c.Content) == "":
			c.FilterReason = "empty output"
		case len(strings.TrimSpace(c.Content)) < minViableChars:
			c.FilterReason = "output too short"
		}
	}
}

// viable returns the candidates that survived filtering, in launch order.
func viable(candidates []models.Candidate) []models.Candidate {
	var out []models.Candidate
	for _, c := range candidates {
		if c.Viable() {
			out = append(out, c)
		}
	}
	return out
}

// VoteInput carries everything a voter needs to judge a round.
type VoteInput struct {
	TaskID       string
	SystemPrompt string
	Task         string
	Plan         string
	Candidates   []models.Candidate
}

// VoteResult is the outcome of a voting round.
type VoteResult struct {
	Winner string // winning candidate label
	Votes  []models.Vote
}

// Vote runs the voting round over the viable candidates and returns the
// winner.
//
// Budget: up to 2K-1 voters run in parallel. The first candidate to reach
// K votes wins immediately and outstanding voters are cancelled.
// Abstentions (explicit, unparseable, or failed calls) consume budget
// without scoring. If no candidate reaches K, the highest tally wins,
// ties broken by launch order. A round with fewer than K+1 viable
// candidates skips voting entirely and takes the earliest survivor.
func (e *Engine) Vote(ctx context.Context, in *VoteInput) (*VoteResult, error) {
	pool := viable(in.Candidates)
	if len(pool) == 0 {
		return nil, NewExhaustionError(in.Candidates)
	}
	if len(pool) <= e.voteK {
		e.event("%d viable candidate(s) with K=%d, skipping vote for %s", len(pool), e.voteK, pool[0].Label)
		return &VoteResult{Winner: pool[0].Label}, nil
	}

	ballot := renderBallot(in.Task, in.Plan, pool)
	messages := []llm.Message{
		{Role: "system", Content: in.SystemPrompt},
		{Role: "user", Content: ballot},
	}
	labels := make(map[string]bool, len(pool))
	for _, c := range pool {
		labels[c.Label] = true
	}

	numVoters := 2*e.voteK - 1
	voteCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type ballotReturn struct {
		idx    int
		choice string // empty = abstention
		err    error
	}
	results := make(chan ballotReturn, numVoters)

	var wg sync.WaitGroup
	for i := 0; i < numVoters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := llm.Collect(voteCtx, e.voter, &llm.GenerateInput{
				TaskID:   in.TaskID,
				Agent:    "voter",
				Messages: messages,
				Options:  llm.Options{},
			})
			if err != nil {
				results <- ballotReturn{idx: i, err: err}
				return
			}
			results <- ballotReturn{idx: i, choice: parseBallot(result.Content, labels)}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	tally := make(map[string]int)
	votes := make([]models.Vote, 0, numVoters)
	var winner string

	for r := range results {
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			votes = append(votes, models.Vote{Voter: r.idx, Abstained: true, Error: r.err.Error()})
			e.event("voter %d failed (%s), counts as abstention", r.idx, llm.ErrorKind(r.err))
			continue
		}
		if r.choice == "" {
			votes = append(votes, models.Vote{Voter: r.idx, Abstained: true})
			e.event("voter %d abstained", r.idx)
			continue
		}

		votes = append(votes, models.Vote{Voter: r.idx, Choice: r.choice})
		tally[r.choice]++
		e.event("voter %d voted %s (%d/%d)", r.idx, r.choice, tally[r.choice], e.voteK)

		if tally[r.choice] >= e.voteK {
			winner = r.choice
			cancel() // early termination: remaining voters are moot
			// Drain so the producer goroutines finish.
			for range results {
			}
			break
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if winner == "" {
		winner = tallyMax(tally, pool)
	}
	if winner == "" {
		// Every voter abstained or failed: fall back to the earliest
		// viable candidate rather than discarding the round.
		winner = pool[0].Label
		e.event("all voters abstained, defaulting to candidate %s", winner)
	}

	e.event("winner: candidate %s", winner)
	return &VoteResult{Winner: winner, Votes: votes}, nil
}

// tallyMax returns the label with the highest tally; ties break by launch
// order (pool is in launch order).
func tallyMax(tally map[string]int, pool []models.Candidate) string {
	best := ""
	bestCount := 0
	for _, c := range pool {
		if tally[c.Label] > bestCount {
			best = c.Label
			bestCount = tally[c.Label]
		}
	}
	return best
}

// renderBallot formats the judging prompt.
func renderBallot(task, plan string, pool []models.Candidate) string {
	var sb strings.Builder
	sb.WriteString("Task:\n")
	sb.WriteString(task)
	if plan != "" {
		sb.WriteString("\n\nPlan:\n")
		sb.WriteString(plan)
	}
	sb.WriteString("\n\nCandidates:\n")
	for _, c := range pool {
		fmt.Fprintf(&sb, "\n--- Candidate %s ---\n%s\n", c.Label, c.Content)
	}
	sb.WriteString("\nWhich candidate is best? Answer with its label only.")
	return sb.String()
}

// parseBallot extracts a vote from voter output. The first line is
// preferred (the prompt asks for the label alone); failing that, the first
// token matching a viable label counts. An explicit ABSTAIN, or anything
// unparseable, is an abstention. Lenient because small voter models
// decorate answers freely ("Candidate B", "**B**", "B.").
func parseBallot(response string, labels map[string]bool) string {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	if len(lines) > 0 {
		first := strings.ToUpper(strings.Trim(strings.TrimSpace(lines[0]), "*_`.:"))
		first = strings.TrimPrefix(first, "CANDIDATE ")
		if first == abstainToken {
			return ""
		}
		if len(first) == 1 && labels[first] {
			return first
		}
	}

	cleaned := strings.ToUpper(response)
	for _, tok := range strings.FieldsFunc(cleaned, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z')
	}) {
		if tok == abstainToken {
			return ""
		}
		if tok == "CANDIDATE" {
			continue
		}
		if len(tok) == 1 && labels[tok] {
			return tok
		}
	}
	return ""
}
