// Package workflow defines the request and the per-run state threaded through the
// orchestration graph.
package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidRequest is returned when a Request cannot seed a run.
var ErrInvalidRequest = errors.New("invalid request")

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Request is the immutable input of one engine run.
type Request struct {
	// Message is the free-text user message.
	Message string `json:"message"`

	// CallerID identifies the requester.
	CallerID string `json:"caller_id"`

	// ConversationID is optional; empty for one-shot runs.
	ConversationID string `json:"conversation_id,omitempty"`

	// History holds prior turns, oldest first.
	History []Turn `json:"history,omitempty"`

	// Context is the caller-supplied bundle. Handlers read it but never mutate it.
	Context CallerContext `json:"context"`
}

// Validate checks that the request can seed a WorkflowState.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.CallerID) == "" {
		return fmt.Errorf("%w: caller id is empty", ErrInvalidRequest)
	}
	return nil
}

// RecentHistory returns at most n of the latest turns.
func (r *Request) RecentHistory(n int) []Turn {
	if n <= 0 || len(r.History) <= n {
		return r.History
	}
	return r.History[len(r.History)-n:]
}

var reportIDPattern = regexp.MustCompile(`(?i)report\s+id\s*[:#]?\s*(\d+)`)

// ParseReportIDs returns the report ids referenced as "Report ID: N" in text, in order
// of appearance and without duplicates.
func ParseReportIDs(text string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, m := range reportIDPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
