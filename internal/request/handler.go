package request

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"

	"fwupdate/internal/logger"
	apperrors "fwupdate/pkg/errors"
)

// Response is a finished firmware check response, independent of transport.
type Response struct {
	StatusCode  int
	ContentType string
	Body        string
}

type successBody struct {
	Response       string         `json:"response"`
	RequestPayload map[string]any `json:"request_payload"`
}

type failureBody struct {
	Error          string `json:"error"`
	RequestPayload string `json:"request_payload"`
}

type Handler struct {
	processor *Processor
	authToken string
	logger    logger.Logger
}

func NewHandler(processor *Processor, authToken string, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Handler{
		processor: processor,
		authToken: authToken,
		logger:    log,
	}
}

// Handle authenticates, decodes and processes one firmware check.
func (h *Handler) Handle(ctx context.Context, headers HeaderLookup, body []byte) Response {
	if err := Authenticate(headers, h.authToken); err != nil {
		h.logger.WarnwCtx(ctx, "Firmware check rejected", "error", err)
		return Response{StatusCode: http.StatusUnauthorized, ContentType: "text/plain", Body: reason(err)}
	}

	payload, err := ParsePayload(body)
	if errors.Is(err, ErrMissingDevice) {
		return Response{StatusCode: http.StatusBadRequest, ContentType: "text/plain", Body: msgMissingDevice}
	}
	if err != nil {
		return h.failure(ctx, err, body)
	}

	result, err := h.processor.Process(ctx, payload)
	if err != nil {
		return h.failure(ctx, err, body)
	}

	data, err := json.Marshal(successBody{Response: result, RequestPayload: payload.Attributes})
	if err != nil {
		return h.failure(ctx, err, body)
	}
	return Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: string(data)}
}

func (h *Handler) failure(ctx context.Context, err error, body []byte) Response {
	h.logger.ErrorwCtx(ctx, "Firmware check failed", "error", err)

	data, marshalErr := json.Marshal(failureBody{Error: reason(err), RequestPayload: string(body)})
	if marshalErr != nil {
		data = []byte(`{"error":"internal server error"}`)
	}
	return Response{StatusCode: http.StatusInternalServerError, ContentType: "application/json", Body: string(data)}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/firmware/check", h.CheckFirmware)
	}
}

// CheckFirmware godoc
// @Summary      Decide and request firmware updates for a device
// @Description  Matches the device against the active rules and requests notecard and host updates from Notehub
// @Tags         firmware
// @Accept       json
// @Produce      json
// @Param        x-api-key  header    string  false  "Shared secret; Authorization: Bearer is also accepted"
// @Param        payload    body      object  true   "Device check-in with a device UID"
// @Success      200        {object}  successBody
// @Failure      400        {string}  string
// @Failure      401        {string}  string
// @Failure      500        {object}  failureBody
// @Router       /firmware/check [post]
func (h *Handler) CheckFirmware(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	resp := h.Handle(c.Request.Context(), HTTPHeaders(c.Request.Header), body)
	c.Data(resp.StatusCode, resp.ContentType, []byte(resp.Body))
}

// LambdaHandler serves API Gateway proxy events.
func (h *Handler) LambdaHandler(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "invalid base64 request body"}, nil
		}
		body = decoded
	}

	resp := h.Handle(ctx, MapHeaders(event.Headers), body)
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    map[string]string{"Content-Type": resp.ContentType},
		Body:       resp.Body,
	}, nil
}

func reason(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Reason()
	}
	return err.Error()
}
