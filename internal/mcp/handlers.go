package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/malaise/internal/errors"
	"github.com/hpungsan/malaise/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps     ops.Deps
	deviceID string
}

// NewHandlers creates a new Handlers instance. deviceID is the default
// for calls that omit device_id.
func NewHandlers(d ops.Deps, deviceID string) *Handlers {
	return &Handlers{deps: d, deviceID: deviceID}
}

func (h *Handlers) device(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return h.deviceID
}

// Request types for each tool

// PreviewRequest represents the arguments for episode_preview.
type PreviewRequest struct {
	DeviceID     string   `json:"device_id,omitempty"`
	Date         string   `json:"date,omitempty"`
	Symptoms     []string `json:"symptoms"`
	DayThreshold int      `json:"day_threshold,omitempty"`
}

// LogRequest represents the arguments for episode_log.
type LogRequest struct {
	DeviceID     string   `json:"device_id,omitempty"`
	Date         string   `json:"date,omitempty"`
	Symptoms     []string `json:"symptoms"`
	Notes        string   `json:"notes,omitempty"`
	DayThreshold int      `json:"day_threshold,omitempty"`
}

// ListRequest represents the arguments for episode_list.
type ListRequest struct {
	DeviceID   string `json:"device_id,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// IDRequest represents the arguments for tools addressing one episode.
type IDRequest struct {
	ID string `json:"id"`
}

// ProgressionRequest represents the arguments for episode_progression.
type ProgressionRequest struct {
	ID       string   `json:"id"`
	Symptoms []string `json:"symptoms"`
}

// ResolveRequest represents the arguments for episode_resolve.
type ResolveRequest struct {
	ID      string `json:"id"`
	EndDate string `json:"end_date,omitempty"`
}

// ExportRequest represents the arguments for episode_export.
type ExportRequest struct {
	Path     string `json:"path,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// ImportRequest represents the arguments for episode_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// Handler implementations

// HandlePreview handles the episode_preview tool call.
func (h *Handlers) HandlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PreviewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Preview(ctx, h.deps, ops.PreviewInput{
		DeviceID:     h.device(input.DeviceID),
		Date:         input.Date,
		Symptoms:     input.Symptoms,
		DayThreshold: input.DayThreshold,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLog handles the episode_log tool call.
func (h *Handlers) HandleLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LogRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Submit(ctx, h.deps, ops.SubmitInput{
		DeviceID:     h.device(input.DeviceID),
		Date:         input.Date,
		Symptoms:     input.Symptoms,
		Notes:        input.Notes,
		DayThreshold: input.DayThreshold,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the episode_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.deps, ops.ListInput{
		DeviceID:   h.device(input.DeviceID),
		ActiveOnly: input.ActiveOnly,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGet handles the episode_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Get(ctx, h.deps, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProgression handles the episode_progression tool call.
func (h *Handlers) HandleProgression(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProgressionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Progression(ctx, h.deps, ops.ProgressionInput{
		EpisodeID: input.ID,
		Symptoms:  input.Symptoms,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleResolve handles the episode_resolve tool call.
func (h *Handlers) HandleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ResolveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Resolve(ctx, h.deps, ops.ResolveInput{
		EpisodeID: input.ID,
		EndDate:   input.EndDate,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDelete handles the episode_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Delete(ctx, h.deps, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the episode_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.deps, ops.ExportInput{
		Path:     input.Path,
		DeviceID: input.DeviceID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the episode_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.deps, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var mErr *errors.MalaiseError
	if stderrors.As(err, &mErr) {
		errorObj := map[string]any{
			"code":    mErr.Code,
			"message": mErr.Message,
			"status":  mErr.Status,
		}
		if mErr.Code != errors.ErrInternal && mErr.Details != nil {
			errorObj["details"] = mErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
