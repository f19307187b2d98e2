package models

import "time"

// AgentVote is one agent's stated position for a single deliberation round.
type AgentVote struct {
	AgentID    string    `json:"agent_id"`
	Position   string    `json:"position"`
	Confidence float64   `json:"confidence"` // 0-1
	Reasoning  string    `json:"reasoning,omitempty"`
	Evidence   []string  `json:"evidence,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"` // true when the agent did not respond
	Timestamp  time.Time `json:"timestamp"`
}

// AgentCritique is one agent's reaction to the other agents' positions.
type AgentCritique struct {
	AgentID            string   `json:"agent_id"`
	Agrees             bool     `json:"agrees"`
	AgreementPoints    []string `json:"agreement_points,omitempty"`
	DisagreementPoints []string `json:"disagreement_points,omitempty"`
	Improvements       []string `json:"improvements,omitempty"`
	ConfidenceShift    float64  `json:"confidence_shift"`
}

// DeliberationRound groups all votes and critiques exchanged at one iteration.
type DeliberationRound struct {
	Number    int             `json:"number"`
	Votes     []AgentVote     `json:"votes"`
	Critiques []AgentCritique `json:"critiques,omitempty"`
}

// DeliberationResult is the final output of a multi-round deliberation.
type DeliberationResult struct {
	Question           string              `json:"question"`
	Decision           string              `json:"decision"`
	Confidence         float64             `json:"confidence"` // 0-1
	Rounds             []DeliberationRound `json:"rounds"`
	FinalVotes         []AgentVote         `json:"final_votes"`
	DissentingOpinions []AgentVote         `json:"dissenting_opinions,omitempty"`
	EvidenceChain      []string            `json:"evidence_chain,omitempty"`
	Converged          bool                `json:"converged"`
	CreatedAt          time.Time           `json:"created_at"`
}
