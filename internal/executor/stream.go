package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The worker agent streams JSON lines. The machine below keys its
// transitions to unambiguous protocol markers instead of inferring
// lifecycle from timing:
//
//	{"type":"system","subtype":"init",...}   -> started
//	{"type":"stream_event",...} / assistant  -> progress (text deltas)
//	{"type":"result","is_error":...,...}     -> ended (terminal outcome)
//
// Anything after "ended" is ignored; a stream that never reaches "ended"
// is a protocol violation surfaced by Final.

// streamPhase is the machine's position in the agent protocol.
type streamPhase int

const (
	phaseIdle streamPhase = iota
	phaseStarted
	phaseEnded
)

// Outcome is a worker agent's terminal result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// AgentResult is the parsed terminal result of one agent invocation.
type AgentResult struct {
	Outcome Outcome
	Class   FailureClass // meaningful when Outcome != success
	Reason  string
	Notes   string // partial-outcome notes
}

// StreamHandlers receives lifecycle callbacks. All fields are optional.
type StreamHandlers struct {
	OnStart    func()
	OnProgress func(text string)
	OnEnd      func(AgentResult)
}

// StreamMachine consumes agent output line by line and tracks the protocol
// state. It is driven by a single goroutine per dispatch.
type StreamMachine struct {
	phase    streamPhase
	handlers StreamHandlers
	result   AgentResult
	sawEnd   bool
}

// NewStreamMachine creates a machine in the idle state.
func NewStreamMachine(handlers StreamHandlers) *StreamMachine {
	return &StreamMachine{handlers: handlers}
}

// agentEvent mirrors the agent's stream-json line shape.
type agentEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
	Event   *struct {
		Type  string `json:"type"`
		Delta *struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"delta,omitempty"`
	} `json:"event,omitempty"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	} `json:"message,omitempty"`
}

// Feed consumes one output line and fires the matching transition.
// Non-JSON lines are treated as plain progress text once started.
func (m *StreamMachine) Feed(line string) {
	line = strings.TrimSpace(line)
	if line == "" || m.phase == phaseEnded {
		return
	}

	var event agentEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		if m.phase == phaseStarted {
			m.progress(line)
		}
		return
	}

	switch event.Type {
	case "system":
		if event.Subtype == "init" && m.phase == phaseIdle {
			m.phase = phaseStarted
			if m.handlers.OnStart != nil {
				m.handlers.OnStart()
			}
		}

	case "stream_event":
		if m.phase != phaseStarted {
			return
		}
		if event.Event != nil && event.Event.Delta != nil && event.Event.Delta.Type == "text_delta" {
			m.progress(event.Event.Delta.Text)
		}

	case "assistant":
		if m.phase != phaseStarted {
			return
		}
		if event.Message != nil {
			for _, c := range event.Message.Content {
				if c.Type == "text" && c.Text != "" {
					m.progress(c.Text)
				}
			}
		}

	case "result":
		m.phase = phaseEnded
		m.sawEnd = true
		m.result = resultFromEvent(event)
		if m.handlers.OnEnd != nil {
			m.handlers.OnEnd(m.result)
		}
	}
}

func (m *StreamMachine) progress(text string) {
	if text != "" && m.handlers.OnProgress != nil {
		m.handlers.OnProgress(text)
	}
}

// Final returns the terminal result. A stream that never produced the end
// marker is a protocol violation and maps to a transient failure, so the
// retry policy gets a chance to re-dispatch.
func (m *StreamMachine) Final() (AgentResult, error) {
	if !m.sawEnd {
		return AgentResult{
			Outcome: OutcomeFailure,
			Class:   FailureTransient,
			Reason:  "agent stream ended without a result marker",
		}, fmt.Errorf("agent stream ended without a result marker")
	}
	return m.result, nil
}

// Result classification markers the agent may prefix its result text with.
const (
	markerPartial    = "PARTIAL:"
	markerValidation = "VALIDATION:"
	markerFatal      = "FATAL:"
	markerNeedsHuman = "NEEDS_HUMAN:"
)

// resultFromEvent maps the agent's result event to an AgentResult. The
// classification comes from explicit markers in the result text; an
// unmarked error is treated as transient.
func resultFromEvent(event agentEvent) AgentResult {
	text := strings.TrimSpace(event.Result)

	if !event.IsError {
		if rest, ok := strings.CutPrefix(text, markerPartial); ok {
			return AgentResult{
				Outcome: OutcomePartial,
				Class:   FailurePartial,
				Reason:  "partial completion",
				Notes:   strings.TrimSpace(rest),
			}
		}
		return AgentResult{Outcome: OutcomeSuccess, Notes: text}
	}

	res := AgentResult{Outcome: OutcomeFailure, Class: FailureTransient, Reason: text}
	switch {
	case strings.HasPrefix(text, markerValidation):
		res.Class = FailureValidation
		res.Reason = strings.TrimSpace(strings.TrimPrefix(text, markerValidation))
	case strings.HasPrefix(text, markerFatal):
		res.Class = FailureNonRecoverable
		res.Reason = strings.TrimSpace(strings.TrimPrefix(text, markerFatal))
	case strings.HasPrefix(text, markerNeedsHuman):
		res.Class = FailureUserIntervention
		res.Reason = strings.TrimSpace(strings.TrimPrefix(text, markerNeedsHuman))
	}
	if res.Reason == "" {
		res.Reason = "agent reported an error"
	}
	return res
}
