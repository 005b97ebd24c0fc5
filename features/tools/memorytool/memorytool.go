// Package memorytool exposes agent memory as a pair of tools: one saving
// entries, one searching them. Both delegate to a memory.Store so the backend
// (in-memory, Mongo) is a deployment choice.
package memorytool

import (
	"context"
	"encoding/json"

	"github.com/quorumhq/agentrun/runtime/agent/memory"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

const (
	// SaveName is the registered identifier of the save tool.
	SaveName tools.Ident = "memory_save"
	// SearchName is the registered identifier of the search tool.
	SearchName tools.Ident = "memory_search"
)

var (
	saveSchema = []byte(`{
	"type": "object",
	"properties": {
		"text": {"type": "string", "minLength": 1},
		"tags": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["text"],
	"additionalProperties": false
}`)

	searchSchema = []byte(`{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"tag": {"type": "string"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 50}
	},
	"additionalProperties": false
}`)
)

type (
	// Save persists memory entries for the invoking agent.
	Save struct {
		store memory.Store
	}

	// Search queries the invoking agent's memory.
	Search struct {
		store memory.Store
	}

	saveRequest struct {
		Text string   `json:"text"`
		Tags []string `json:"tags"`
	}

	saveResponse struct {
		ID string `json:"id"`
	}

	searchRequest struct {
		Text  string `json:"text"`
		Tag   string `json:"tag"`
		Limit int    `json:"limit"`
	}

	searchResponse struct {
		Entries []*memory.Entry `json:"entries"`
	}
)

// NewSave returns the save tool over store.
func NewSave(store memory.Store) *Save {
	return &Save{store: store}
}

// NewSearch returns the search tool over store.
func NewSearch(store memory.Store) *Search {
	return &Search{store: store}
}

// Describe implements tools.Tool.
func (s *Save) Describe() tools.Definition {
	return tools.Definition{
		Name:        SaveName,
		Description: "Save a fact to the agent's durable memory for later runs.",
		Schema:      saveSchema,
		Tags:        []string{"memory"},
	}
}

// Execute implements tools.Tool.
func (s *Save) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var req saveRequest
	if err := json.Unmarshal(inv.Payload, &req); err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "decode save payload", err), nil
	}
	entry := &memory.Entry{
		AgentID: inv.AgentID,
		Text:    req.Text,
		Tags:    req.Tags,
	}
	if err := s.store.Save(ctx, entry); err != nil {
		if tools.IsContextError(err) {
			return tools.Cancelled("memory save cancelled"), nil
		}
		return tools.FailErr(toolerrors.KindExecution, "save memory entry", err), nil
	}
	return tools.OKValue(saveResponse{ID: entry.ID})
}

// Describe implements tools.Tool.
func (s *Search) Describe() tools.Definition {
	return tools.Definition{
		Name:        SearchName,
		Description: "Search the agent's durable memory by text and tag.",
		Schema:      searchSchema,
		Tags:        []string{"memory"},
	}
}

// Execute implements tools.Tool.
func (s *Search) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var req searchRequest
	if err := json.Unmarshal(inv.Payload, &req); err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "decode search payload", err), nil
	}
	entries, err := s.store.Search(ctx, memory.Query{
		AgentID: inv.AgentID,
		Text:    req.Text,
		Tag:     req.Tag,
		Limit:   req.Limit,
	})
	if err != nil {
		if tools.IsContextError(err) {
			return tools.Cancelled("memory search cancelled"), nil
		}
		return tools.FailErr(toolerrors.KindExecution, "search memory", err), nil
	}
	if entries == nil {
		entries = []*memory.Entry{}
	}
	return tools.OKValue(searchResponse{Entries: entries})
}
