package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/autoprogress/internal/diagram"
	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/pkg/schema"
)

// handleEvaluate runs one expression against ad-hoc attributes.
func (s *Server) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	attrs, err := objectArg(req, "attributes")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("attributes: %v", err)), nil
	}
	if attrs == nil {
		return mcp.NewToolResultError("attributes is required"), nil
	}
	dialect := req.GetString("dialect", "")
	entityType := req.GetString("entity_type", "")

	doc := &record.Document{Type: entityType, Data: attrs}
	ok, evalErr := s.checker.Evaluator().Check(ctx, dialect, expression, record.Bind(s.checker.Reader(), doc))
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", evalErr)), nil
	}

	return marshalResult(map[string]any{
		"expression": expression,
		"dialect":    dialect,
		"result":     ok,
	})
}

// handleCheck previews or applies auto-progression for a record.
func (s *Server) handleCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.progressor == nil {
		return mcp.NewToolResultError("progression is not configured"), nil
	}
	entityType, err := req.RequireString("entity_type")
	if err != nil {
		return mcp.NewToolResultError("entity_type is required"), nil
	}
	data, err := objectArg(req, "record")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record: %v", err)), nil
	}
	if data == nil {
		return mcp.NewToolResultError("record is required"), nil
	}
	doc := &record.Document{Type: entityType, Data: data}

	if req.GetBool("dry_run", false) {
		decision, prevErr := s.progressor.Preview(ctx, doc)
		if prevErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", prevErr)), nil
		}
		return marshalResult(map[string]any{
			"dry_run":  true,
			"ready":    decision.Ready(),
			"decision": decision,
		})
	}

	actor := schema.Actor{
		ID:   req.GetString("actor_id", ""),
		Name: req.GetString("actor_name", ""),
	}
	progressed, progErr := s.progressor.CheckAndProgress(ctx, doc, actor)
	if progErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("progression failed: %v", progErr)), nil
	}

	out := map[string]any{"progressed": progressed}
	if progressed && s.store != nil {
		if id, ok := record.Identify(s.checker.Reader(), doc); ok {
			if inst, getErr := s.store.GetInstance(ctx, entityType, id); getErr == nil && inst != nil {
				out["instance"] = inst
			}
		}
	}
	return marshalResult(out)
}

// handleInstance looks up an instance by id or by its record.
func (s *Server) handleInstance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store is not configured"), nil
	}
	if id := req.GetString("instance_id", ""); id != "" {
		inst, err := s.store.GetInstanceByID(ctx, id)
		if errors.Is(err, schema.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no instance with id %s", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("instance lookup failed: %v", err)), nil
		}
		return marshalResult(inst)
	}

	entityType := req.GetString("entity_type", "")
	entityID := req.GetString("entity_id", "")
	if entityType == "" || entityID == "" {
		return mcp.NewToolResultError("instance_id or entity_type with entity_id is required"), nil
	}
	inst, err := s.store.GetInstance(ctx, entityType, entityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("instance lookup failed: %v", err)), nil
	}
	if inst == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no instance for %s %s", entityType, entityID)), nil
	}
	return marshalResult(inst)
}

// handleDiagram renders a workflow, overlaid with instance progress when
// instance_id is given.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store is not configured"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}

	workflowID := req.GetString("workflow_id", "")
	instanceID := req.GetString("instance_id", "")

	var wf *schema.Workflow
	var inst *schema.WorkflowInstance
	switch {
	case instanceID != "":
		inst, err = s.store.GetInstanceByID(ctx, instanceID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("instance not found: %v", err)), nil
		}
		wf = inst.Workflow
	case workflowID != "":
		wf, err = s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", err)), nil
		}
	default:
		return mcp.NewToolResultError("at least one of workflow_id or instance_id is required"), nil
	}

	model, err := diagram.Build(wf, inst)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}
	if format == "mermaid" {
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
}

// objectArg reads an object argument. A JSON-encoded string is decoded with
// exact integers, so ids beyond 2^53 survive the transport.
func objectArg(req mcp.CallToolRequest, name string) (map[string]any, error) {
	switch v := req.GetArguments()[name].(type) {
	case nil:
		return nil, nil
	case string:
		return record.DecodeObject([]byte(v))
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
