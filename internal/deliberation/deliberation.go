package deliberation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

var (
	// ErrNoAgents is returned when deliberation is started without agents.
	ErrNoAgents = errors.New("deliberation: no agents supplied")
	// ErrNoAgentsResponded is returned when every agent fails in the
	// initial round; there is nothing to deliberate over.
	ErrNoAgentsResponded = errors.New("deliberation: no agents responded")
)

// Asker issues one prompt to one agent persona and returns its raw reply.
type Asker interface {
	Ask(ctx context.Context, agentID, prompt string) (string, error)
}

// VotingStrategy selects how final positions are turned into a decision.
type VotingStrategy string

const (
	VoteMajority  VotingStrategy = "majority"
	VoteWeighted  VotingStrategy = "weighted"
	VoteUnanimous VotingStrategy = "unanimous"
)

// Deliberation round states.
const (
	stateInitial  = "INITIAL_OPINION"
	stateCritique = "CRITIQUE"
	stateRefine   = "REFINE"
	stateDecide   = "DECIDE"
)

// Options configures one deliberation run.
type Options struct {
	Context              map[string]any
	VotingStrategy       VotingStrategy
	MaxRounds            int
	MinConfidence        float64
	ConvergenceThreshold float64
	CallTimeout          time.Duration
	MaxConcurrentCalls   int
	EnableParallelCalls  bool
	// ChoiceOptions, when set, buckets positions into these canonical
	// answers (e.g. BUY/SELL/HOLD for a forced-choice question).
	ChoiceOptions []string
}

func DefaultOptions() Options {
	return Options{
		VotingStrategy:       VoteWeighted,
		MaxRounds:            3,
		MinConfidence:        0.6,
		ConvergenceThreshold: 0.75,
		CallTimeout:          120 * time.Second,
		MaxConcurrentCalls:   8,
		EnableParallelCalls:  true,
	}
}

// Deliberation runs bounded multi-round debates among named agent personas.
type Deliberation struct {
	asker  Asker
	logger *logrus.Logger
}

func New(asker Asker, logger *logrus.Logger) *Deliberation {
	if logger == nil {
		logger = logrus.New()
	}
	return &Deliberation{asker: asker, logger: logger}
}

// Deliberate drives the INITIAL_OPINION -> CRITIQUE -> REFINE loop until
// positions converge or the round budget runs out, then applies the voting
// strategy. Individual agent failures become zero-confidence fallback
// votes; only a fully silent first round aborts the run.
func (d *Deliberation) Deliberate(ctx context.Context, question string, agents []string, opts Options) (*models.DeliberationResult, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	opts = withDefaults(opts)

	log := d.logger.WithFields(logrus.Fields{
		"question": truncate(question, 80),
		"agents":   len(agents),
	})
	log.WithField("state", stateInitial).Info("deliberation started")

	result := &models.DeliberationResult{
		Question:  question,
		CreatedAt: time.Now(),
	}

	// Latest successful vote per agent; fallback votes never overwrite a
	// real position from an earlier round.
	current := make(map[string]models.AgentVote, len(agents))

	votes := d.collectVotes(ctx, agents, opts, func(agent string) string {
		return initialPrompt(question, opts.Context)
	})
	if allFallback(votes) {
		return nil, ErrNoAgentsResponded
	}
	for _, v := range votes {
		current[v.AgentID] = v
	}
	result.Rounds = append(result.Rounds, models.DeliberationRound{Number: 1, Votes: votes})

	for round := 2; round <= opts.MaxRounds; round++ {
		if sim := meanPairwiseSimilarity(liveVotes(current, agents)); sim >= opts.ConvergenceThreshold {
			result.Converged = true
			log.WithFields(logrus.Fields{"round": round - 1, "similarity": sim}).Info("positions converged")
			break
		}

		log.WithFields(logrus.Fields{"state": stateCritique, "round": round}).Debug("collecting critiques")
		critiques := d.collectCritiques(ctx, agents, current, opts)

		log.WithFields(logrus.Fields{"state": stateRefine, "round": round}).Debug("collecting refined positions")
		refined := d.collectVotes(ctx, agents, opts, func(agent string) string {
			return refinePrompt(question, current[agent], critiquesFor(critiques, agent))
		})
		for _, v := range refined {
			if !v.Fallback {
				current[v.AgentID] = v
			}
		}
		result.Rounds = append(result.Rounds, models.DeliberationRound{
			Number:    round,
			Votes:     refined,
			Critiques: critiques,
		})
	}
	if !result.Converged {
		if sim := meanPairwiseSimilarity(liveVotes(current, agents)); sim >= opts.ConvergenceThreshold {
			result.Converged = true
		}
	}

	result.FinalVotes = finalVotes(current, agents)
	d.decide(result, opts)

	if result.Confidence < opts.MinConfidence {
		log.WithField("confidence", result.Confidence).Warn("decision confidence below configured minimum")
	}
	log.WithFields(logrus.Fields{
		"state":      stateDecide,
		"decision":   truncate(result.Decision, 80),
		"confidence": result.Confidence,
		"rounds":     len(result.Rounds),
	}).Info("deliberation finished")

	return result, nil
}

// decide buckets the final live votes and applies the voting strategy.
func (d *Deliberation) decide(result *models.DeliberationResult, opts Options) {
	live := make([]models.AgentVote, 0, len(result.FinalVotes))
	for _, v := range result.FinalVotes {
		if !v.Fallback {
			live = append(live, v)
		}
	}
	if len(live) == 0 {
		result.Decision = "no response"
		result.Confidence = 0
		return
	}

	buckets := bucketVotes(live, opts.ChoiceOptions)

	var winner *voteBucket
	switch opts.VotingStrategy {
	case VoteMajority:
		for i := range buckets {
			b := &buckets[i]
			if winner == nil || len(b.votes) > len(winner.votes) ||
				(len(b.votes) == len(winner.votes) && b.weight > winner.weight) {
				winner = b
			}
		}
	default: // weighted and unanimous both select by confidence weight
		for i := range buckets {
			if b := &buckets[i]; winner == nil || b.weight > winner.weight {
				winner = b
			}
		}
	}

	result.Decision = winner.label

	var totalWeight, winnerAvg float64
	for _, b := range buckets {
		totalWeight += b.weight
	}
	winnerAvg = winner.weight / float64(len(winner.votes))
	support := winner.weight / (totalWeight + 1e-9)
	result.Confidence = clamp01(winnerAvg * support)

	for _, v := range live {
		if !containsVote(winner.votes, v.AgentID) {
			result.DissentingOpinions = append(result.DissentingOpinions, v)
		}
	}

	if opts.VotingStrategy == VoteUnanimous && len(result.DissentingOpinions) > 0 {
		if result.Confidence > 0.3 {
			result.Confidence = 0.3
		}
	}

	// Evidence cited in any round stays in the chain even when the agent
	// later refined its position away from it.
	seen := make(map[string]struct{})
	for _, round := range result.Rounds {
		for _, v := range round.Votes {
			for _, e := range v.Evidence {
				if _, ok := seen[e]; !ok {
					seen[e] = struct{}{}
					result.EvidenceChain = append(result.EvidenceChain, e)
				}
			}
		}
	}
}

type voteBucket struct {
	label  string
	votes  []models.AgentVote
	weight float64
}

// bucketVotes groups positions. With canonical choices supplied each vote
// maps to its best-matching choice; otherwise positions cluster greedily by
// keyword similarity against each bucket's representative.
func bucketVotes(votes []models.AgentVote, choices []string) []voteBucket {
	var buckets []voteBucket

	assign := func(label string, v models.AgentVote) {
		for i := range buckets {
			if buckets[i].label == label {
				buckets[i].votes = append(buckets[i].votes, v)
				buckets[i].weight += v.Confidence
				return
			}
		}
		buckets = append(buckets, voteBucket{label: label, votes: []models.AgentVote{v}, weight: v.Confidence})
	}

	for _, v := range votes {
		if len(choices) > 0 {
			assign(closestChoice(v.Position, choices), v)
			continue
		}

		placed := false
		for i := range buckets {
			if positionSimilarity(v.Position, buckets[i].label) >= 0.5 {
				buckets[i].votes = append(buckets[i].votes, v)
				buckets[i].weight += v.Confidence
				placed = true
				break
			}
		}
		if !placed {
			assign(v.Position, v)
		}
	}

	return buckets
}

func closestChoice(position string, choices []string) string {
	lower := strings.ToLower(position)
	best, bestScore := choices[0], -1.0
	for _, c := range choices {
		score := positionSimilarity(position, c)
		if strings.Contains(lower, strings.ToLower(c)) {
			score += 1
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// collectVotes fans the prompt out to every agent and joins the replies in
// the callers' agent order. A failed call yields a fallback vote instead of
// cancelling its siblings.
func (d *Deliberation) collectVotes(ctx context.Context, agents []string, opts Options, promptFor func(agent string) string) []models.AgentVote {
	replies := d.fanOut(ctx, agents, opts, promptFor)

	votes := make([]models.AgentVote, 0, len(agents))
	for _, agent := range agents {
		r := replies[agent]
		if r.err != nil {
			d.logger.WithError(r.err).WithField("agent", agent).Warn("agent did not respond")
			votes = append(votes, fallbackVote(agent))
			continue
		}
		votes = append(votes, parseVote(agent, r.text))
	}
	return votes
}

func (d *Deliberation) collectCritiques(ctx context.Context, agents []string, current map[string]models.AgentVote, opts Options) []models.AgentCritique {
	replies := d.fanOut(ctx, agents, opts, func(agent string) string {
		return critiquePrompt(current, agent)
	})

	critiques := make([]models.AgentCritique, 0, len(agents))
	for _, agent := range agents {
		r := replies[agent]
		if r.err != nil {
			d.logger.WithError(r.err).WithField("agent", agent).Warn("agent skipped critique round")
			continue
		}
		critiques = append(critiques, parseCritique(agent, r.text))
	}
	return critiques
}

type agentReply struct {
	agent string
	text  string
	err   error
}

func (d *Deliberation) fanOut(ctx context.Context, agents []string, opts Options, promptFor func(agent string) string) map[string]agentReply {
	ask := func(ctx context.Context, agent string) agentReply {
		callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
		text, err := d.asker.Ask(callCtx, agent, promptFor(agent))
		return agentReply{agent: agent, text: text, err: err}
	}

	out := make(map[string]agentReply, len(agents))

	if !opts.EnableParallelCalls {
		for _, agent := range agents {
			out[agent] = ask(ctx, agent)
		}
		return out
	}

	replyCh := make(chan agentReply, len(agents))
	sem := make(chan struct{}, opts.MaxConcurrentCalls)
	var wg sync.WaitGroup

	for _, agent := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			replyCh <- ask(ctx, agent)
		}(agent)
	}

	wg.Wait()
	close(replyCh)
	for r := range replyCh {
		out[r.agent] = r
	}
	return out
}

func fallbackVote(agentID string) models.AgentVote {
	return models.AgentVote{
		AgentID:   agentID,
		Position:  "no response",
		Fallback:  true,
		Timestamp: time.Now(),
	}
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.VotingStrategy == "" {
		opts.VotingStrategy = def.VotingStrategy
	}
	if opts.MaxRounds < 1 {
		opts.MaxRounds = def.MaxRounds
	}
	if opts.ConvergenceThreshold <= 0 {
		opts.ConvergenceThreshold = def.ConvergenceThreshold
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.MaxConcurrentCalls < 1 {
		opts.MaxConcurrentCalls = def.MaxConcurrentCalls
	}
	return opts
}

func allFallback(votes []models.AgentVote) bool {
	for _, v := range votes {
		if !v.Fallback {
			return false
		}
	}
	return true
}

func liveVotes(current map[string]models.AgentVote, agents []string) []models.AgentVote {
	out := make([]models.AgentVote, 0, len(agents))
	for _, agent := range agents {
		if v, ok := current[agent]; ok && !v.Fallback {
			out = append(out, v)
		}
	}
	return out
}

func finalVotes(current map[string]models.AgentVote, agents []string) []models.AgentVote {
	out := make([]models.AgentVote, 0, len(agents))
	for _, agent := range agents {
		if v, ok := current[agent]; ok {
			out = append(out, v)
		} else {
			out = append(out, fallbackVote(agent))
		}
	}
	return out
}

func meanPairwiseSimilarity(votes []models.AgentVote) float64 {
	if len(votes) < 2 {
		return 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(votes); i++ {
		for j := i + 1; j < len(votes); j++ {
			sum += positionSimilarity(votes[i].Position, votes[j].Position)
			pairs++
		}
	}
	return sum / float64(pairs)
}

func critiquesFor(critiques []models.AgentCritique, exclude string) []models.AgentCritique {
	out := make([]models.AgentCritique, 0, len(critiques))
	for _, c := range critiques {
		if c.AgentID != exclude {
			out = append(out, c)
		}
	}
	return out
}

func containsVote(votes []models.AgentVote, agentID string) bool {
	for _, v := range votes {
		if v.AgentID == agentID {
			return true
		}
	}
	return false
}

func initialPrompt(question string, contextData map[string]any) string {
	var b strings.Builder
	b.WriteString("You are one voice in a panel of trading analysts.\n\n")
	b.WriteString("Question: " + question + "\n")

	if len(contextData) > 0 {
		keys := make([]string, 0, len(contextData))
		for k := range contextData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nContext:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, contextData[k])
		}
	}

	b.WriteString("\nReply using exactly this structure:\n")
	b.WriteString("Position: <your answer in one or two sentences>\n")
	b.WriteString("Confidence: <0.0-1.0>\n")
	b.WriteString("Reasoning: <why>\n")
	b.WriteString("Evidence: <semicolon-separated supporting facts>\n")
	return b.String()
}

func critiquePrompt(current map[string]models.AgentVote, agent string) string {
	var b strings.Builder
	b.WriteString("Other analysts answered the same question as follows:\n\n")

	ids := make([]string, 0, len(current))
	for id := range current {
		if id != agent {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := current[id]
		if v.Fallback {
			continue
		}
		fmt.Fprintf(&b, "- %s (confidence %.2f): %s\n", id, v.Confidence, truncate(v.Position, 200))
	}

	b.WriteString("\nCritique their positions. Reply using exactly this structure:\n")
	b.WriteString("Agrees: <yes|no>\n")
	b.WriteString("Agreement_points: <semicolon-separated>\n")
	b.WriteString("Disagreement_points: <semicolon-separated>\n")
	b.WriteString("Improvements: <semicolon-separated>\n")
	b.WriteString("Confidence_adjustment: <-1.0 to 1.0>\n")
	return b.String()
}

func refinePrompt(question string, previous models.AgentVote, critiques []models.AgentCritique) string {
	var b strings.Builder
	b.WriteString("Question: " + question + "\n\n")
	fmt.Fprintf(&b, "Your previous position (confidence %.2f): %s\n", previous.Confidence, previous.Position)

	if len(critiques) > 0 {
		b.WriteString("\nCritiques from the panel:\n")
		for _, c := range critiques {
			for _, p := range c.DisagreementPoints {
				fmt.Fprintf(&b, "- %s disagrees: %s\n", c.AgentID, p)
			}
			for _, p := range c.Improvements {
				fmt.Fprintf(&b, "- %s suggests: %s\n", c.AgentID, p)
			}
		}
	}

	b.WriteString("\nRestate your position taking the critiques into account.\n")
	b.WriteString("Reply using exactly this structure:\n")
	b.WriteString("Position: <your updated answer>\n")
	b.WriteString("Confidence: <0.0-1.0>\n")
	b.WriteString("Reasoning: <why>\n")
	b.WriteString("Evidence: <semicolon-separated supporting facts>\n")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
