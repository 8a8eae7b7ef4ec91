package assistant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tracklane/copilot/pkg/models"
)

// Path is the compute tier a request is routed to.
type Path string

const (
	// PathLocal answers from the prefetched snapshot, no model call.
	PathLocal Path = "local"

	// PathStreaming uses the cheap model tier, single pass, no tools.
	PathStreaming Path = "streaming"

	// PathStandard uses the full tool-calling model loop.
	PathStandard Path = "standard"
)

// Route is a routing decision. Answer is set only for PathLocal.
type Route struct {
	Path   Path
	Answer string
}

// Classifier decides between the streaming and standard tiers for requests
// the snapshot cannot answer. It is advisory: misclassification costs money
// or latency, never correctness, because the standard path handles every
// query type.
type Classifier interface {
	Classify(message string) Path
}

var (
	actionRegex = regexp.MustCompile(`(?i)\b(submit|approve|update|change|set|move|create|add|delete|remove|close|reopen|assign)\b`)
	filterRegex = regexp.MustCompile(`(?i)\b(last week|this week|for \w+|between|before|after|filter|where|named|called)\b`)
	simpleRegex = regexp.MustCompile(`(?i)\b(summari[sz]e|explain|describe|overview|what (is|are)|tell me about|help|how do i)\b`)
)

// HeuristicClassifier picks the tier from simple content patterns: anything
// that smells like an action or a filtered lookup needs tools, broad
// read-only questions go to the cheap tier.
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(message string) Path {
	if actionRegex.MatchString(message) || filterRegex.MatchString(message) {
		return PathStandard
	}
	if simpleRegex.MatchString(message) {
		return PathStreaming
	}
	return PathStandard
}

// snapshotMatcher answers one family of questions directly from the
// prefetched snapshot.
type snapshotMatcher struct {
	pattern *regexp.Regexp
	answer  func(groups []string, snap *models.Snapshot) string
}

var snapshotMatchers = []snapshotMatcher{
	{
		pattern: regexp.MustCompile(`(?i)\bbudget\b.*\b(summary|status|left|remaining|overview)\b|\bhow much\b.*\bbudget\b`),
		answer: func(_ []string, snap *models.Snapshot) string {
			remaining := snap.BudgetTotal - snap.BudgetSpent
			return fmt.Sprintf("Budget: %.2f %s spent of %.2f %s, %.2f %s remaining.",
				snap.BudgetSpent, snap.Currency, snap.BudgetTotal, snap.Currency, remaining, snap.Currency)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\bhow many\b.*\bopen\b.*\b(risks?|issues?|actions?)\b`),
		answer: func(groups []string, snap *models.Snapshot) string {
			switch {
			case strings.HasPrefix(strings.ToLower(groups[1]), "risk"):
				return fmt.Sprintf("There are %d open risks.", snap.OpenRisks)
			case strings.HasPrefix(strings.ToLower(groups[1]), "issue"):
				return fmt.Sprintf("There are %d open issues.", snap.OpenIssues)
			default:
				return fmt.Sprintf("There are %d open actions.", snap.OpenActions)
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(draft|unsubmitted)\b.*\b(timesheets?|hours)\b`),
		answer: func(_ []string, snap *models.Snapshot) string {
			return fmt.Sprintf("You have %.1f hours of draft timesheets.", snap.DraftTimesheetHours)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\bmilestones?\b.*\bdue\b|\bdue\b.*\bmilestones?\b`),
		answer: func(_ []string, snap *models.Snapshot) string {
			return fmt.Sprintf("%d milestone(s) are due in the next two weeks.", snap.MilestonesDueSoon)
		},
	},
}

// Router classifies a request into one of the three response paths. It is a
// pure function of the message and snapshot; no external calls.
type Router struct {
	classifier Classifier
}

// NewRouter builds a router; a nil classifier falls back to the heuristics.
func NewRouter(classifier Classifier) *Router {
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	return &Router{classifier: classifier}
}

// Route picks the path for message. Snapshot answers take precedence, but
// never for messages that look like actions: a mutation must always reach
// the tool-calling path.
func (r *Router) Route(message string, snap *models.Snapshot) Route {
	message = strings.TrimSpace(message)
	if message == "" {
		return Route{Path: PathStandard}
	}

	if snap != nil && !actionRegex.MatchString(message) {
		for _, m := range snapshotMatchers {
			if groups := m.pattern.FindStringSubmatch(message); groups != nil {
				return Route{Path: PathLocal, Answer: m.answer(groups, snap)}
			}
		}
	}
	return Route{Path: r.classifier.Classify(message)}
}
