package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/integrations/webhook"
	"github.com/quorumhq/agentrun/runtime/agent/observe"
	"github.com/quorumhq/agentrun/runtime/agent/runstore"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
	"github.com/quorumhq/agentrun/runtime/toolregistry"
	"github.com/quorumhq/agentrun/runtime/toolregistry/executor"
)

type (
	// api exposes run lifecycle, tool invocation and webhook endpoints.
	api struct {
		exec       *executor.Executor
		tools      *toolregistry.Registry
		observer   observe.Observer
		runs       runstore.Store
		dispatcher *webhook.Dispatcher

		mu      sync.Mutex
		handles map[string]observe.Handle
		agents  map[string]string
	}

	startRunRequest struct {
		RunID   string          `json:"run_id"`
		AgentID string          `json:"agent_id" binding:"required"`
		Input   json.RawMessage `json:"input"`
	}

	invokeRequest struct {
		ToolCallID string          `json:"tool_call_id"`
		Payload    json.RawMessage `json:"payload"`
	}

	finishRequest struct {
		Output json.RawMessage `json:"output"`
	}

	failRequest struct {
		Error string `json:"error" binding:"required"`
	}
)

func mountAPI(router *gin.Engine, exec *executor.Executor, tools *toolregistry.Registry, observer observe.Observer, runs runstore.Store, dispatcher *webhook.Dispatcher) {
	a := &api{
		exec:       exec,
		tools:      tools,
		observer:   observer,
		runs:       runs,
		dispatcher: dispatcher,
		handles:    make(map[string]observe.Handle),
		agents:     make(map[string]string),
	}
	router.GET("/v1/tools", a.listTools)
	router.POST("/v1/runs", a.startRun)
	router.POST("/v1/runs/:run_id/tools/:name", a.invokeTool)
	router.POST("/v1/runs/:run_id/finish", a.finishRun)
	router.POST("/v1/runs/:run_id/fail", a.failRun)
	router.GET("/v1/runs/:run_id/events", a.listEvents)
	router.POST("/webhooks/:provider", a.handleWebhook)
}

func (a *api) listTools(c *gin.Context) {
	type toolInfo struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Schema      json.RawMessage `json:"schema,omitempty"`
		Tags        []string        `json:"tags,omitempty"`
	}
	var out []toolInfo
	for def := range a.tools.Definitions() {
		out = append(out, toolInfo{
			Name:        string(def.Name),
			Description: def.Description,
			Schema:      def.Schema,
			Tags:        def.Tags,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

func (a *api) startRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	a.mu.Lock()
	if _, ok := a.handles[req.RunID]; ok {
		a.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "run already started"})
		return
	}
	a.mu.Unlock()

	h, err := a.observer.Start(c.Request.Context(), observe.RunInput{
		RunID:   req.RunID,
		AgentID: req.AgentID,
		Input:   req.Input,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.mu.Lock()
	a.handles[req.RunID] = h
	a.agents[req.RunID] = req.AgentID
	a.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"run_id": req.RunID})
}

func (a *api) invokeTool(c *gin.Context) {
	runID := c.Param("run_id")
	a.mu.Lock()
	h, ok := a.handles[runID]
	agentID := a.agents[runID]
	a.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}

	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ToolCallID == "" {
		req.ToolCallID = uuid.NewString()
	}

	result, err := a.exec.Execute(c.Request.Context(), tools.Ident(c.Param("name")), req.Payload, &executor.CallMeta{
		RunID:      runID,
		AgentID:    agentID,
		ToolCallID: req.ToolCallID,
		Run:        h,
	})
	if err != nil {
		status := http.StatusInternalServerError
		var nf *toolregistry.NotFoundError
		var invalid *executor.InvalidInputError
		switch {
		case errors.As(err, &nf):
			status = http.StatusNotFound
		case errors.As(err, &invalid):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_call_id": req.ToolCallID, "result": result})
}

func (a *api) finishRun(c *gin.Context) {
	runID := c.Param("run_id")
	h, ok := a.takeHandle(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	// Output is optional; an empty body finishes the run without one.
	var req finishRequest
	_ = c.ShouldBindJSON(&req)
	if err := a.observer.Finish(c.Request.Context(), h, observe.RunResult{Output: req.Output}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) failRun(c *gin.Context) {
	runID := c.Param("run_id")
	h, ok := a.takeHandle(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.observer.Fail(c.Request.Context(), h, errors.New(req.Error)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) listEvents(c *gin.Context) {
	limit := 50
	page, err := a.runs.List(c.Request.Context(), c.Param("run_id"), c.Query("cursor"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": page.Events, "next_cursor": page.NextCursor})
}

func (a *api) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}
	delivery := integrations.WebhookDelivery{
		Provider:   integrations.Provider(c.Param("provider")),
		DeliveryID: c.GetHeader("X-GitHub-Delivery"),
		Body:       body,
		Signature:  c.GetHeader("X-Hub-Signature-256"),
		Headers:    headers,
		ReceivedAt: time.Now().UTC(),
	}
	if delivery.DeliveryID == "" {
		delivery.DeliveryID = uuid.NewString()
	}

	if err := a.dispatcher.Dispatch(c.Request.Context(), delivery); err != nil {
		var nc *integrations.NotConfiguredError
		var verr *webhook.VerificationError
		switch {
		case errors.As(err, &nc):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.As(err, &verr):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Status(http.StatusAccepted)
}

// takeHandle removes and returns the handle for runID so terminal transitions
// happen at most once through the API.
func (a *api) takeHandle(runID string) (observe.Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[runID]
	if ok {
		delete(a.handles, runID)
		delete(a.agents, runID)
	}
	return h, ok
}
