package management

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fwupdate/internal/logger"
	"fwupdate/pkg/errors"
)

const headerChangedBy = "X-User-ID"

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

// RegisterRoutes mounts the management API under /api/v1. middleware runs
// before every management route, typically token authentication.
func (h *Handler) RegisterRoutes(router gin.IRouter, middleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", middleware...)
	{
		rules := v1.Group("/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/active", h.GetActiveRules)
			rules.POST("/reload", h.ReloadRules)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
		}

		v1.POST("/firmware/cancel", h.CancelUpdate)
	}
}

func withChangedBy(c *gin.Context) {
	if user := c.GetHeader(headerChangedBy); user != "" {
		c.Request = c.Request.WithContext(WithChangedBy(c.Request.Context(), user))
	}
}

// ListRules godoc
// @Summary      List stored firmware rules
// @Description  List every stored rule, enabled or not, in evaluation order
// @Tags         rules
// @Produce      json
// @Success      200  {array}   rulestore.RuleRecord
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.Service.ListRules(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule godoc
// @Summary      Create a firmware rule
// @Description  Store a rule and reload the active rule set
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateRuleRequest  true  "Rule"
// @Success      201   {object}  rulestore.RuleRecord
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	withChangedBy(c)
	rule, err := h.Service.CreateRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get a firmware rule
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  rulestore.RuleRecord
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a firmware rule
// @Description  Change the given fields of a stored rule and reload the active rule set
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        rule  body      UpdateRuleRequest  true  "Changed fields"
// @Success      200   {object}  rulestore.RuleRecord
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	withChangedBy(c)
	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete a firmware rule
// @Tags         rules
// @Param        id   path      string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	withChangedBy(c)
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetActiveRules godoc
// @Summary      Show the active rule set
// @Description  The rules currently used for decisions, after decoding
// @Tags         rules
// @Produce      json
// @Success      200  {object}  ActiveRulesResponse
// @Router       /rules/active [get]
func (h *Handler) GetActiveRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.ActiveRules(c.Request.Context()))
}

// ReloadRules godoc
// @Summary      Reload the active rule set
// @Description  Reload rules from their source now and notify other instances
// @Tags         rules
// @Produce      json
// @Success      200  {object}  ActiveRulesResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /rules/reload [post]
func (h *Handler) ReloadRules(c *gin.Context) {
	withChangedBy(c)
	resp, err := h.Service.ReloadRules(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CancelUpdate godoc
// @Summary      Cancel a pending firmware update
// @Tags         firmware
// @Accept       json
// @Produce      json
// @Param        request  body      CancelUpdateRequest  true  "Device and channel"
// @Success      204      "No Content"
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      502      {object}  errors.ErrorResponse
// @Router       /firmware/cancel [post]
func (h *Handler) CancelUpdate(c *gin.Context) {
	var req CancelUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	withChangedBy(c)
	if err := h.Service.CancelUpdate(c.Request.Context(), req); err != nil {
		h.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
