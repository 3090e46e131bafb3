package handler

import (
	"github.com/gin-gonic/gin"

	featureflagapp "github.com/oks-citadel/citadelbuy-sub019/internal/application/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/application/featureflag/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	httpdto "github.com/oks-citadel/citadelbuy-sub019/internal/interfaces/http/dto"
)

// FeatureFlagHandler handles feature flag administration and evaluation
// HTTP requests
type FeatureFlagHandler struct {
	BaseHandler
	flagService       *featureflagapp.FlagService
	evaluationService *featureflagapp.EvaluationService
}

// NewFeatureFlagHandler creates a new FeatureFlagHandler
func NewFeatureFlagHandler(
	flagService *featureflagapp.FlagService,
	evaluationService *featureflagapp.EvaluationService,
) *FeatureFlagHandler {
	return &FeatureFlagHandler{
		flagService:       flagService,
		evaluationService: evaluationService,
	}
}

// RegisterRoutes registers all feature flag routes
func (h *FeatureFlagHandler) RegisterRoutes(rg *gin.RouterGroup) {
	flags := rg.Group("/flags")
	{
		flags.POST("", h.Create)
		flags.GET("", h.List)
		flags.GET("/:key", h.Get)
		flags.PUT("/:key", h.Update)
		flags.DELETE("/:key", h.Delete)
		flags.POST("/:key/enable", h.Enable)
		flags.POST("/:key/disable", h.Disable)
		flags.GET("/:key/evaluate", h.Evaluate)
	}
}

// Create creates a new feature flag
func (h *FeatureFlagHandler) Create(c *gin.Context) {
	var req dto.CreateFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.flagService.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// List returns feature flags with pagination
func (h *FeatureFlagHandler) List(c *gin.Context) {
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

	page, err := h.flagService.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get returns a single feature flag
func (h *FeatureFlagHandler) Get(c *gin.Context) {
	resp, err := h.flagService.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Update edits a feature flag
func (h *FeatureFlagHandler) Update(c *gin.Context) {
	var req dto.UpdateFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.flagService.Update(c.Request.Context(), c.Param("key"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Delete removes a feature flag
func (h *FeatureFlagHandler) Delete(c *gin.Context) {
	if err := h.flagService.Delete(c.Request.Context(), c.Param("key")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Enable turns a flag on
func (h *FeatureFlagHandler) Enable(c *gin.Context) {
	resp, err := h.flagService.Enable(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Disable turns a flag off
func (h *FeatureFlagHandler) Disable(c *gin.Context) {
	resp, err := h.flagService.Disable(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Evaluate evaluates a flag for a subject. subject_id and environment
// come from dedicated query parameters; every other query parameter is
// treated as a subject attribute for targeting.
func (h *FeatureFlagHandler) Evaluate(c *gin.Context) {
	req := dto.EvaluateRequest{
		SubjectID:   c.Query("subject_id"),
		Environment: c.Query("environment"),
	}

	attrs := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if key == "subject_id" || key == "environment" || len(values) == 0 {
			continue
		}
		attrs[key] = values[0]
	}
	if len(attrs) > 0 {
		req.Attributes = attrs
	}

	resp, err := h.evaluationService.Evaluate(c.Request.Context(), c.Param("key"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
