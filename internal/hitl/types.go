package hitl

import (
	"errors"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/rules"
)

var (
	// ErrRuleNotHITL is returned when a question is requested for a rule that does not need review.
	ErrRuleNotHITL = errors.New("hitl: rule does not require human review")
	// ErrDeferred is returned by an Answerer that leaves the decision for later.
	ErrDeferred       = errors.New("hitl: decision deferred")
	ErrNilInput       = errors.New("hitl: nil input")
	ErrInvalidAnswer  = errors.New("hitl: invalid answer")
	ErrDuplicateEntry = errors.New("hitl: decision already logged")
)

// Option is one mutually exclusive choice in a question.
type Option struct {
	Key         string       `json:"Key"`
	Label       string       `json:"Label"`
	Action      rules.Action `json:"Action"`
	CustomValue string       `json:"CustomValue,omitempty"`
	Recommended bool         `json:"Recommended"`
}

// Question asks a reviewer to choose how a rule is handled.
type Question struct {
	ID                   string         `json:"Id"`
	RuleID               string         `json:"RuleId"`
	RuleType             rules.RuleType `json:"RuleType"`
	Column               string         `json:"Column"`
	Prompt               string         `json:"Prompt"`
	Details              []string       `json:"Details,omitempty"`
	Options              []Option       `json:"Options"`
	RecommendedKey       string         `json:"RecommendedKey"`
	RecommendationReason string         `json:"RecommendationReason"`
	CreatedAt            time.Time      `json:"CreatedAt"`
}

// Option returns the option with key k.
func (q *Question) Option(k string) (Option, bool) {
	for _, o := range q.Options {
		if o.Key == k {
			return o, true
		}
	}
	return Option{}, false
}

// Recommended returns the recommended option.
func (q *Question) Recommended() Option {
	o, _ := q.Option(q.RecommendedKey)
	return o
}

// Answer is the reviewer's choice for one question.
type Answer struct {
	QuestionID             string       `json:"QuestionId"`
	SelectedKey            string       `json:"SelectedKey"`
	Action                 rules.Action `json:"Action"`
	CustomValue            string       `json:"CustomValue,omitempty"`
	FollowedRecommendation bool         `json:"FollowedRecommendation"`
	Feedback               string       `json:"Feedback,omitempty"`
	AnsweredAt             time.Time    `json:"AnsweredAt"`
}

// DecisionLog is the immutable audit record of one answered question.
type DecisionLog struct {
	ID           string      `json:"Id"`
	SessionID    string      `json:"SessionId"`
	Question     *Question   `json:"Question"`
	Answer       *Answer     `json:"Answer"`
	ApprovedRule *rules.Rule `json:"ApprovedRule"`
	UserID       string      `json:"UserId"`
	LoggedAt     time.Time   `json:"LoggedAt"`
}

// SessionResult summarizes one ExecuteWorkflow call.
type SessionResult struct {
	SessionID string         `json:"session_id"`
	Decisions []*DecisionLog `json:"decisions"`
	Approved  int            `json:"approved"`
	Rejected  int            `json:"rejected"`
	Deferred  int            `json:"deferred"`
	Skipped   int            `json:"skipped"`
}

// Summary aggregates logged decisions.
type Summary struct {
	Total      int                  `json:"total"`
	Followed   int                  `json:"followed"`
	Overridden int                  `json:"overridden"`
	Sessions   int                  `json:"sessions"`
	ByAction   map[rules.Action]int `json:"by_action"`
}
