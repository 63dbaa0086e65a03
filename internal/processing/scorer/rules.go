package scorer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

const day = 24 * time.Hour

var urgentKeywords = []string{"urgent", "asap", "important", "critical", "deadline", "now"}

var priorityBonus = map[domain.Priority]int{
	domain.PriorityUrgent: 20,
	domain.PriorityHigh:   10,
	domain.PriorityMedium: 0,
	domain.PriorityLow:    -10,
}

// RuleScorer scores records from local rules: due date, age, initial
// priority and urgent keywords. It never fails.
type RuleScorer struct {
	now func() time.Time
}

// NewRuleScorer creates a rule-based scorer.
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{now: time.Now}
}

// SetClock replaces the clock used for due date and age rules.
func (s *RuleScorer) SetClock(now func() time.Time) {
	s.now = now
}

// Score implements Scorer.
func (s *RuleScorer) Score(_ context.Context, record *domain.Record) (domain.Score, error) {
	return s.score(record), nil
}

// Extract returns the whole record as a single candidate.
func (s *RuleScorer) Extract(_ context.Context, record *domain.Record) ([]domain.Candidate, error) {
	return []domain.Candidate{{Record: record, Score: s.score(record)}}, nil
}

func (s *RuleScorer) score(record *domain.Record) domain.Score {
	now := s.now()
	score := 50
	var reasons []string

	if record.DueAt != nil {
		if record.DueAt.Before(now) {
			overdue := int(now.Sub(*record.DueAt) / day)
			score += min(30, overdue*5)
			reasons = append(reasons, fmt.Sprintf("Overdue %dd", overdue))
		} else {
			switch until := int(record.DueAt.Sub(now) / day); {
			case until <= 1:
				score += 25
				reasons = append(reasons, "Due very soon")
			case until <= 3:
				score += 15
				reasons = append(reasons, "Due soon")
			}
		}
	}

	if !record.CreatedAt.IsZero() {
		switch age := int(now.Sub(record.CreatedAt) / day); {
		case age > 14:
			score += 15
			reasons = append(reasons, fmt.Sprintf("Old task (%dd)", age))
		case age > 7:
			score += 10
			reasons = append(reasons, fmt.Sprintf("Pending %dd", age))
		}
	}

	score += priorityBonus[record.Priority]

	title := strings.ToLower(record.Title)
	for _, kw := range urgentKeywords {
		if strings.Contains(title, kw) {
			score += 15
			reasons = append(reasons, "Urgent keywords")
			break
		}
	}

	score = clamp(score)
	reason := "Default scoring"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	result := domain.Score{
		Value:       score,
		Priority:    domain.PriorityForScore(score),
		Reason:      reason,
		Title:       record.Title,
		Description: record.Description,
	}
	if record.IsMessage() {
		result.Title = "Mail: " + truncate(record.Title, 40)
		result.Description = record.Category
		if result.Description == "" {
			result.Description = "See message"
		}
	}
	return result
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
