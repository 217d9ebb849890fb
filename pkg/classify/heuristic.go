package classify

import (
	"context"
	"strings"

	"github.com/mamasecure/scanstore/pkg/session"
)

// Heuristic flags any input containing the lowercase word "scam". It is a
// placeholder detector with fixed confidence values and canned reasons.
type Heuristic struct{}

// NewHeuristic returns the placeholder classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Name returns "heuristic".
func (h *Heuristic) Name() string {
	return "heuristic"
}

// Classify never fails unless ctx is already done.
func (h *Heuristic) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return session.ScanResult{}, err
	}

	sources := []string{"ScamWatch.org", "Blacklisted by DNSBL", "Verified IBM Match"}
	if strings.Contains(input, "scam") {
		return session.ScanResult{
			Status:      session.StatusScam,
			Confidence:  96,
			Explanation: []string{"Matches known scam patterns", "Obfuscated domain"},
			Sources:     sources,
		}, nil
	}
	return session.ScanResult{
		Status:      session.StatusSafe,
		Confidence:  91,
		Explanation: []string{"No suspicious activity detected"},
		Sources:     sources,
	}, nil
}
