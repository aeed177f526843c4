package hitl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/rules"
)

// Answerer resolves a question. Returning ErrDeferred leaves the rule pending.
type Answerer interface {
	Answer(ctx context.Context, q *Question) (*Answer, error)
}

// AnswerFunc adapts a function to Answerer.
type AnswerFunc func(ctx context.Context, q *Question) (*Answer, error)

func (f AnswerFunc) Answer(ctx context.Context, q *Question) (*Answer, error) { return f(ctx, q) }

// Choose builds an answer selecting option o of q.
func Choose(q *Question, o Option, feedback string) *Answer {
	return &Answer{
		QuestionID:             q.ID,
		SelectedKey:            o.Key,
		Action:                 o.Action,
		CustomValue:            o.CustomValue,
		FollowedRecommendation: o.Key == q.RecommendedKey,
		Feedback:               feedback,
		AnsweredAt:             time.Now().UTC(),
	}
}

// AutoAnswerer always takes the recommended option.
type AutoAnswerer struct {
	Feedback string
}

func (a AutoAnswerer) Answer(ctx context.Context, q *Question) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fb := a.Feedback
	if fb == "" {
		fb = "auto-approved: recommended option"
	}
	return Choose(q, q.Recommended(), fb), nil
}

// PromptAnswerer asks on a line-oriented terminal.
type PromptAnswerer struct {
	in          *bufio.Reader
	out         io.Writer
	MaxAttempts int
}

func NewPromptAnswerer(in io.Reader, out io.Writer) *PromptAnswerer {
	return &PromptAnswerer{in: bufio.NewReader(in), out: out, MaxAttempts: 3}
}

func (p *PromptAnswerer) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *PromptAnswerer) Answer(ctx context.Context, q *Question) (*Answer, error) {
	fmt.Fprintf(p.out, "\n[%s] %s\n", q.RuleID, q.Prompt)
	for _, d := range q.Details {
		fmt.Fprintf(p.out, "  %s\n", d)
	}
	for i, o := range q.Options {
		mark := ""
		if o.Key == q.RecommendedKey {
			mark = " (recommended)"
		}
		fmt.Fprintf(p.out, "  %d) %s%s\n", i+1, o.Label, mark)
	}
	if q.RecommendationReason != "" {
		fmt.Fprintf(p.out, "  Why: %s\n", q.RecommendationReason)
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	for try := 0; try < attempts; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(p.out, "Choose [1-%d, enter=recommended, s=skip]: ", len(q.Options))
		line, err := p.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrDeferred
			}
			return nil, err
		}
		o, ok := p.pick(q, line)
		if line == "s" || line == "skip" {
			return nil, ErrDeferred
		}
		if !ok {
			fmt.Fprintf(p.out, "  invalid choice %q\n", line)
			continue
		}
		if o.Action == rules.ImputeCustom {
			fmt.Fprintf(p.out, "Fill value [%s]: ", o.CustomValue)
			if v, err := p.readLine(); err == nil && v != "" {
				o.CustomValue = v
			}
		}
		return Choose(q, o, "answered interactively"), nil
	}
	return nil, fmt.Errorf("%w: no valid choice after %d attempts", ErrInvalidAnswer, attempts)
}

func (p *PromptAnswerer) pick(q *Question, line string) (Option, bool) {
	if line == "" {
		return q.Option(q.RecommendedKey)
	}
	if n, err := strconv.Atoi(line); err == nil {
		if n >= 1 && n <= len(q.Options) {
			return q.Options[n-1], true
		}
		return Option{}, false
	}
	return q.Option(line)
}
