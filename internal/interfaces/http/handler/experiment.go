package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	experimentapp "github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	httpdto "github.com/oks-citadel/citadelbuy-sub019/internal/interfaces/http/dto"
)

// ExperimentHandler handles experiment administration and assignment
// HTTP requests
type ExperimentHandler struct {
	BaseHandler
	experimentService *experimentapp.ExperimentService
	assignmentService *experimentapp.AssignmentService
}

// NewExperimentHandler creates a new ExperimentHandler
func NewExperimentHandler(
	experimentService *experimentapp.ExperimentService,
	assignmentService *experimentapp.AssignmentService,
) *ExperimentHandler {
	return &ExperimentHandler{
		experimentService: experimentService,
		assignmentService: assignmentService,
	}
}

// RegisterRoutes registers all experiment and assignment routes
func (h *ExperimentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	experiments := rg.Group("/experiments")
	{
		experiments.POST("", h.Create)
		experiments.GET("", h.List)
		experiments.GET("/:id", h.Get)
		experiments.PUT("/:id", h.Update)
		experiments.POST("/:id/start", h.Start)
		experiments.POST("/:id/pause", h.Pause)
		experiments.POST("/:id/complete", h.Complete)
		experiments.POST("/:id/archive", h.Archive)
		experiments.POST("/:id/assign", h.Assign)
		experiments.GET("/:id/assignments/:subjectId", h.GetAssignment)
		experiments.DELETE("/:id/assignments/:subjectId", h.InvalidateAssignment)
		experiments.POST("/:id/conversions", h.TrackConversion)
	}

	assignments := rg.Group("/assignments")
	{
		assignments.POST("/bulk", h.BulkAssign)
	}
}

// Create creates a new draft experiment
func (h *ExperimentHandler) Create(c *gin.Context) {
	var req dto.CreateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.experimentService.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// List returns experiments with pagination
func (h *ExperimentHandler) List(c *gin.Context) {
	listReq := httpdto.DefaultListRequest()
	if err := c.ShouldBindQuery(&listReq); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	filter := shared.Filter{
		Page:     listReq.Page,
		PageSize: listReq.PageSize,
		OrderBy:  listReq.OrderBy,
		OrderDir: listReq.OrderDir,
	}

	page, err := h.experimentService.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get returns a single experiment
func (h *ExperimentHandler) Get(c *gin.Context) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	resp, err := h.experimentService.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Update edits a draft experiment
func (h *ExperimentHandler) Update(c *gin.Context) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	var req dto.UpdateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.experimentService.Update(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Start transitions an experiment to running
func (h *ExperimentHandler) Start(c *gin.Context) {
	h.transition(c, h.experimentService.Start)
}

// Pause suspends a running experiment
func (h *ExperimentHandler) Pause(c *gin.Context) {
	h.transition(c, h.experimentService.Pause)
}

// Complete ends an experiment
func (h *ExperimentHandler) Complete(c *gin.Context) {
	h.transition(c, h.experimentService.Complete)
}

// Archive retires an experiment
func (h *ExperimentHandler) Archive(c *gin.Context) {
	h.transition(c, h.experimentService.Archive)
}

// Assign assigns a subject to an experiment. An ineligible subject is
// answered with 204 No Content: no variant, and no error either.
func (h *ExperimentHandler) Assign(c *gin.Context) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.assignmentService.Assign(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if resp == nil {
		h.NoContent(c)
		return
	}
	h.Success(c, resp)
}

// GetAssignment returns the subject's existing assignment without
// creating one
func (h *ExperimentHandler) GetAssignment(c *gin.Context) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	resp, err := h.assignmentService.GetAssignment(c.Request.Context(), id, c.Param("subjectId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// InvalidateAssignment evicts the subject's cached assignment
func (h *ExperimentHandler) InvalidateAssignment(c *gin.Context) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	if err := h.assignmentService.Invalidate(c.Request.Context(), id, c.Param("subjectId")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// TrackConversion records a conversion for the subject's assigned variant
func (h *ExperimentHandler) TrackConversion(c *gin.Context) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	var req dto.TrackConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if err := h.assignmentService.TrackConversion(c.Request.Context(), id, req); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// BulkAssign assigns a subject to several experiments in one call
func (h *ExperimentHandler) BulkAssign(c *gin.Context) {
	var req dto.BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.assignmentService.BulkAssign(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

func (h *ExperimentHandler) transition(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*dto.ExperimentResponse, error)) {
	id, ok := h.experimentID(c)
	if !ok {
		return
	}

	resp, err := op(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

func (h *ExperimentHandler) experimentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid experiment ID")
		return uuid.Nil, false
	}
	return id, true
}
