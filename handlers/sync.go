// ABOUTME: Directory sync MCP tool handlers
// ABOUTME: Runs a sync for an account and reports per-account sync state
package handlers

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/directory"
	"github.com/harperreed/rolodex/models"
)

type SyncHandlers struct {
	engine *directory.Engine
	owner  string
}

func NewSyncHandlers(engine *directory.Engine, ownerID string) *SyncHandlers {
	return &SyncHandlers{engine: engine, owner: ownerID}
}

type SyncDirectoryInput struct {
	AccountEmail string `json:"account_email" jsonschema:"Google account whose contacts are synced (required)"`
}

type SyncRunOutput struct {
	RunID     string `json:"run_id"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	Pages     int    `json:"pages"`
	Fetched   int    `json:"fetched"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Removed   int    `json:"removed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Duration  string `json:"duration"`
}

func (h *SyncHandlers) SyncDirectory(ctx context.Context, request *mcp.CallToolRequest, input SyncDirectoryInput) (*mcp.CallToolResult, SyncRunOutput, error) {
	if input.AccountEmail == "" {
		return nil, SyncRunOutput{}, fmt.Errorf("account_email is required")
	}
	res, err := h.engine.Sync(ctx, h.owner, input.AccountEmail)
	if err != nil {
		return nil, SyncRunOutput{}, err
	}
	return nil, syncResultToOutput(res), nil
}

func syncResultToOutput(res *directory.SyncResult) SyncRunOutput {
	return SyncRunOutput{
		RunID:     res.RunID,
		Mode:      string(res.Mode),
		Status:    string(res.Status),
		Pages:     res.Pages,
		Fetched:   res.Fetched,
		Created:   res.Created,
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
		Removed:   res.Removed,
		Skipped:   res.Skipped,
		Error:     res.Error,
		Code:      res.Code,
		Duration:  res.FinishedAt.Sub(res.StartedAt).String(),
	}
}

type SyncStateInput struct {
	AccountEmail string `json:"account_email,omitempty" jsonschema:"Account to report; all accounts when empty"`
}

type SyncStateOutput struct {
	AccountEmail          string  `json:"account_email"`
	Provider              string  `json:"provider"`
	Status                string  `json:"status"`
	HasCursor             bool    `json:"has_cursor"`
	LastFullSyncAt        *string `json:"last_full_sync_at,omitempty"`
	LastIncrementalSyncAt *string `json:"last_incremental_sync_at,omitempty"`
	ErrorMessage          string  `json:"error_message,omitempty"`
}

type SyncStatesOutput struct {
	States []SyncStateOutput `json:"states"`
}

func (h *SyncHandlers) GetSyncState(ctx context.Context, request *mcp.CallToolRequest, input SyncStateInput) (*mcp.CallToolResult, SyncStatesOutput, error) {
	if input.AccountEmail != "" {
		state, err := h.engine.GetSyncState(ctx, h.owner, input.AccountEmail)
		if err != nil {
			return nil, SyncStatesOutput{}, err
		}
		return nil, SyncStatesOutput{States: []SyncStateOutput{syncStateToOutput(state)}}, nil
	}

	states, err := h.engine.ListSyncStates(ctx, h.owner)
	if err != nil {
		return nil, SyncStatesOutput{}, err
	}
	out := SyncStatesOutput{States: make([]SyncStateOutput, len(states))}
	for i := range states {
		out.States[i] = syncStateToOutput(&states[i])
	}
	return nil, out, nil
}

func syncStateToOutput(state *models.SyncState) SyncStateOutput {
	output := SyncStateOutput{
		AccountEmail: state.AccountEmail,
		Provider:     string(state.Provider),
		Status:       string(state.SyncStatus),
		HasCursor:    state.SyncToken != nil && *state.SyncToken != "",
	}
	if state.LastFullSyncAt != nil {
		t := state.LastFullSyncAt.Format(timeLayout)
		output.LastFullSyncAt = &t
	}
	if state.LastIncrementalSyncAt != nil {
		t := state.LastIncrementalSyncAt.Format(timeLayout)
		output.LastIncrementalSyncAt = &t
	}
	if state.ErrorMessage != nil {
		output.ErrorMessage = *state.ErrorMessage
	}
	return output
}
