package daemonrouter

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// ActionType is the planner's classification of an inbound message that
// does not start with the command prefix.
type ActionType string

const (
	ActionCommand ActionType = "command"
	ActionQuery   ActionType = "query"
	ActionChat    ActionType = "chat"
)

// PlannerDecision is the strict JSON contract an interface-model planner
// must return: {"action_type": "...", "command_text": "...", "query_text": "..."}.
type PlannerDecision struct {
	ActionType  ActionType `json:"action_type"`
	CommandText string     `json:"command_text"`
	QueryText   string     `json:"query_text"`
}

// Planner classifies a non-command message. It is optional; when nil, every
// non-command message is routed as a query.
type Planner interface {
	Plan(ctx context.Context, text string) (PlannerDecision, error)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parsePlannerOutput extracts the fenced JSON contract from a planner's raw
// text response, falling back to parsing the whole trimmed response as JSON.
// A malformed response is reported as an error so the caller can fail safe
// to ActionQuery.
func parsePlannerOutput(raw string) (PlannerDecision, error) {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(raw); len(m) == 2 {
		candidate = m[1]
	}
	var decision PlannerDecision
	if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
		return PlannerDecision{}, err
	}
	switch decision.ActionType {
	case ActionCommand, ActionQuery, ActionChat:
	default:
		return PlannerDecision{}, errInvalidActionType
	}
	return decision, nil
}

var errInvalidActionType = &plannerError{"planner returned an unrecognized action_type"}

type plannerError struct{ msg string }

func (e *plannerError) Error() string { return e.msg }
