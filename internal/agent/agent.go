package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"icdcoder/internal/domain"
	"icdcoder/internal/logger"
	"icdcoder/internal/metrics"
	"icdcoder/internal/normalize"
)

var (
	ErrEmptyQuestion     = errors.New("question must not be empty")
	ErrInterruptNotFound = errors.New("interrupt not found")
	ErrInvalidDecision   = errors.New(`decision must be "approve" or "reject"`)
)

// Decision is the human verdict on a paused tool call.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Searcher runs the code search tool.
type Searcher interface {
	Search(ctx context.Context, symptoms string) (domain.ToolResult, error)
}

// Outcome is exactly one of a normalized reply, a pending interrupt or a rejection.
type Outcome struct {
	Result    *normalize.Result
	Interrupt *Interrupt
	Rejected  bool
}

type Options struct {
	RequireApproval bool
	Temperature     float64
}

// Agent drives one search_icd10_code round trip with a chat model.
type Agent struct {
	model      llms.Model
	searcher   Searcher
	interrupts *InterruptStore
	opts       Options
	metrics    *metrics.Metrics
}

func New(model llms.Model, searcher Searcher, store *InterruptStore, opts Options, m *metrics.Metrics) *Agent {
	if store == nil {
		store = NewInterruptStore()
	}
	return &Agent{model: model, searcher: searcher, interrupts: store, opts: opts, metrics: m}
}

func (a *Agent) Interrupts() *InterruptStore { return a.interrupts }

// Ask lets the model plan its tool call. With approval enabled the call is
// parked and returned as an interrupt; otherwise it runs immediately.
func (a *Agent) Ask(ctx context.Context, question string) (*Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	log := logger.FromContext(ctx)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, question),
	}
	resp, err := a.model.GenerateContent(ctx, messages,
		llms.WithTools([]llms.Tool{searchTool()}),
		llms.WithTemperature(a.opts.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("plan tool call: %w", err)
	}
	call := toolCallFrom(resp, question)
	messages = append(messages, llms.MessageContent{
		Role: llms.ChatMessageTypeAI,
		Parts: []llms.ContentPart{llms.ToolCall{
			ID:   call.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      call.Name,
				Arguments: mustJSON(call.Args),
			},
		}},
	})
	if a.opts.RequireApproval {
		it := &Interrupt{ToolCall: call, messages: messages}
		a.interrupts.Put(it)
		log.Info("Tool call awaiting approval", "interrupt_id", it.ID, "tool", call.Name)
		return &Outcome{Interrupt: it}, nil
	}
	return a.execute(ctx, call, messages)
}

// Resume applies a decision to a parked tool call. The interrupt is consumed
// either way.
func (a *Agent) Resume(ctx context.Context, id string, decision Decision) (*Outcome, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, ErrInvalidDecision
	}
	it, ok := a.interrupts.Take(id)
	if !ok {
		return nil, ErrInterruptNotFound
	}
	if decision == DecisionReject {
		logger.FromContext(ctx).Info("Tool call rejected", "interrupt_id", id)
		return &Outcome{Rejected: true}, nil
	}
	return a.execute(ctx, it.ToolCall, it.messages)
}

func (a *Agent) execute(ctx context.Context, call ToolCall, messages []llms.MessageContent) (*Outcome, error) {
	log := logger.FromContext(ctx)
	result, err := a.searcher.Search(ctx, call.Args.Symptoms)
	if err != nil {
		return nil, err
	}
	messages = append(messages, llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    mustJSON(result),
		}},
	})
	resp, err := a.model.GenerateContent(ctx, messages, llms.WithTemperature(a.opts.Temperature))
	if err != nil {
		return nil, fmt.Errorf("final reply: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("final reply: empty response from model")
	}
	res := normalize.Normalize(resp.Choices[0].Content)
	if !res.OK() {
		a.metrics.ParseFailure()
		log.Warn("Model reply could not be normalized", "error", res.Failure.Message)
	}
	return &Outcome{Result: &res}, nil
}

func searchTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        ToolName,
			Description: toolDescription,
			Parameters:  toolParameters,
		},
	}
}

// toolCallFrom picks the search call out of a planning response. A model that
// answers without calling the tool gets the question searched verbatim.
func toolCallFrom(resp *llms.ContentResponse, question string) ToolCall {
	if resp != nil {
		for _, choice := range resp.Choices {
			for _, tc := range choice.ToolCalls {
				if tc.FunctionCall == nil || tc.FunctionCall.Name != ToolName {
					continue
				}
				var args ToolArgs
				if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil || strings.TrimSpace(args.Symptoms) == "" {
					args.Symptoms = question
				}
				id := tc.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				return ToolCall{ID: id, Name: ToolName, Args: args}
			}
		}
	}
	return ToolCall{ID: "call_" + uuid.NewString(), Name: ToolName, Args: ToolArgs{Symptoms: question}}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
