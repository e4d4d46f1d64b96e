package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"cognitive-blackbox/internal/cache"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/errhandler"
	"cognitive-blackbox/internal/session"
	"cognitive-blackbox/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// FlowUseCase is the session flow the routes drive.
type FlowUseCase interface {
	Cases() []domain.CaseMetadata
	Start(ctx context.Context, in usecase.StartInput) (usecase.SessionView, error)
	Get(ctx context.Context, id string) (usecase.SessionView, error)
	Advance(ctx context.Context, id string) (usecase.SessionView, error)
	Retreat(ctx context.Context, id string) (usecase.SessionView, error)
	Reset(ctx context.Context, id string) (usecase.SessionView, error)
	Finish(ctx context.Context, id string) (usecase.SessionView, error)
	Restore(ctx context.Context, id string) (usecase.SessionView, error)
	SubmitInput(ctx context.Context, id string, req usecase.InputRequest) (usecase.SessionView, error)
	Generate(ctx context.Context, id string, in usecase.GenerateInput) (usecase.GenerateOutput, error)
	TriggerMoment(ctx context.Context, id, name string) (domain.MagicMoment, error)
	UseTool(ctx context.Context, id, name string) (domain.GeneratedTool, error)
	Export(ctx context.Context, id string) ([]byte, error)
	ErrorStats() errhandler.Stats
	CacheStats() cache.Stats
	ClearCache()
}

// MetricsRenderer renders metrics in the Prometheus text format.
type MetricsRenderer interface {
	Render() (string, error)
}

type Handler struct {
	flow        FlowUseCase
	metrics     MetricsRenderer
	contentType string
	logger      *slog.Logger
}

type Option func(*Handler)

func WithMetrics(m MetricsRenderer, contentType string) Option {
	return func(h *Handler) {
		h.metrics = m
		h.contentType = contentType
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(flow FlowUseCase, opts ...Option) (*Handler, error) {
	if flow == nil {
		return nil, errors.New("handler: flow use case must not be nil")
	}
	h := &Handler{flow: flow, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type startRequest struct {
	CaseID string `json:"caseId"`
	UserID string `json:"userId"`
}

type inputRequest struct {
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type generateRequest struct {
	Input string `json:"input"`
	Role  string `json:"role,omitempty"`
}

type sessionResponse struct {
	SessionID             string                 `json:"sessionId"`
	CaseID                string                 `json:"caseId"`
	Stage                 int                    `json:"stage"`
	TotalStages           int                    `json:"totalStages"`
	Role                  domain.Role            `json:"role"`
	Status                domain.Status          `json:"status"`
	PersonalizationActive bool                   `json:"personalizationActive"`
	Inputs                map[string]string      `json:"inputs"`
	Moments               []domain.MagicMoment   `json:"moments"`
	Tools                 []domain.GeneratedTool `json:"tools"`
	Summary               session.Summary        `json:"summary"`
	Message               string                 `json:"message,omitempty"`
}

type generateResponse struct {
	Text        string                `json:"text"`
	Role        domain.Role           `json:"role"`
	Stage       int                   `json:"stage"`
	Notice      string                `json:"notice,omitempty"`
	Tool        *domain.GeneratedTool `json:"tool,omitempty"`
	Diagnostics usecase.Diagnostics   `json:"diagnostics"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle routes one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	resp := h.route(ctx, logger, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	logger.InfoContext(ctx, "request handled", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := strings.ToUpper(req.HTTPMethod)
	parts := splitPath(req.Path)

	switch {
	case method == http.MethodGet && slices.Equal(parts, []string{"cases"}):
		return jsonResponse(http.StatusOK, map[string]any{"cases": h.flow.Cases()})
	case method == http.MethodGet && slices.Equal(parts, []string{"metrics"}):
		return h.renderMetrics(ctx, logger)
	case method == http.MethodGet && slices.Equal(parts, []string{"diagnostics", "errors"}):
		return jsonResponse(http.StatusOK, h.flow.ErrorStats())
	case method == http.MethodGet && slices.Equal(parts, []string{"diagnostics", "cache"}):
		return jsonResponse(http.StatusOK, h.flow.CacheStats())
	case method == http.MethodDelete && slices.Equal(parts, []string{"diagnostics", "cache"}):
		h.flow.ClearCache()
		return jsonResponse(http.StatusOK, h.flow.CacheStats())
	case method == http.MethodPost && slices.Equal(parts, []string{"sessions"}):
		var body startRequest
		if err := decodeBody(req.Body, &body); err != nil {
			return invalidBody()
		}
		view, err := h.flow.Start(ctx, usecase.StartInput{CaseID: body.CaseID, UserID: body.UserID})
		return h.sessionResult(ctx, logger, http.StatusCreated, view, err)
	case len(parts) >= 2 && parts[0] == "sessions":
		return h.sessionRoute(ctx, logger, method, parts[1], parts[2:], req.Body)
	}
	return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "The requested resource does not exist.")
}

func (h *Handler) sessionRoute(ctx context.Context, logger *slog.Logger, method, id string, rest []string, body string) events.APIGatewayProxyResponse {
	if method == http.MethodGet {
		switch {
		case len(rest) == 0:
			view, err := h.flow.Get(ctx, id)
			return h.sessionResult(ctx, logger, http.StatusOK, view, err)
		case slices.Equal(rest, []string{"export"}):
			data, err := h.flow.Export(ctx, id)
			if err != nil {
				return h.failure(ctx, logger, err)
			}
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusOK,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       string(data),
			}
		}
	}
	if method != http.MethodPost {
		return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "The requested resource does not exist.")
	}

	switch {
	case len(rest) == 1 && isTransition(rest[0]):
		view, err := h.transition(ctx, rest[0], id)
		return h.sessionResult(ctx, logger, http.StatusOK, view, err)
	case slices.Equal(rest, []string{"inputs"}):
		var in inputRequest
		if err := decodeBody(body, &in); err != nil {
			return invalidBody()
		}
		view, err := h.flow.SubmitInput(ctx, id, usecase.InputRequest{Type: in.Type, Content: in.Content, Metadata: in.Metadata})
		return h.sessionResult(ctx, logger, http.StatusOK, view, err)
	case slices.Equal(rest, []string{"generate"}):
		var in generateRequest
		if err := decodeBody(body, &in); err != nil {
			return invalidBody()
		}
		out, err := h.flow.Generate(ctx, id, usecase.GenerateInput{Input: in.Input, Role: in.Role})
		if err != nil {
			return h.failure(ctx, logger, err)
		}
		return jsonResponse(http.StatusOK, generateResponse{
			Text:        out.Text,
			Role:        out.Role,
			Stage:       out.Stage,
			Notice:      out.Notice,
			Tool:        out.Tool,
			Diagnostics: out.Diagnostics,
		})
	case len(rest) == 2 && rest[0] == "moments":
		mm, err := h.flow.TriggerMoment(ctx, id, rest[1])
		if err != nil {
			return h.failure(ctx, logger, err)
		}
		return jsonResponse(http.StatusOK, mm)
	case len(rest) == 3 && rest[0] == "tools" && rest[2] == "use":
		tool, err := h.flow.UseTool(ctx, id, rest[1])
		if err != nil {
			return h.failure(ctx, logger, err)
		}
		return jsonResponse(http.StatusOK, tool)
	}
	return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "The requested resource does not exist.")
}

func isTransition(action string) bool {
	switch action {
	case "advance", "retreat", "reset", "finish", "restore":
		return true
	}
	return false
}

func (h *Handler) transition(ctx context.Context, action, id string) (usecase.SessionView, error) {
	switch action {
	case "advance":
		return h.flow.Advance(ctx, id)
	case "retreat":
		return h.flow.Retreat(ctx, id)
	case "reset":
		return h.flow.Reset(ctx, id)
	case "finish":
		return h.flow.Finish(ctx, id)
	default:
		return h.flow.Restore(ctx, id)
	}
}

func (h *Handler) renderMetrics(ctx context.Context, logger *slog.Logger) events.APIGatewayProxyResponse {
	if h.metrics == nil {
		return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "Metrics are not enabled.")
	}
	text, err := h.metrics.Render()
	if err != nil {
		logger.ErrorContext(ctx, "render metrics failed", "err", err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorSystem), genericMessage)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": h.contentType},
		Body:       text,
	}
}

func (h *Handler) sessionResult(ctx context.Context, logger *slog.Logger, status int, view usecase.SessionView, err error) events.APIGatewayProxyResponse {
	if err != nil {
		return h.failure(ctx, logger, err)
	}
	return jsonResponse(status, toSessionResponse(view))
}

func toSessionResponse(view usecase.SessionView) sessionResponse {
	s := view.Session
	return sessionResponse{
		SessionID:             s.ID,
		CaseID:                s.CaseID,
		Stage:                 s.CurrentStage,
		TotalStages:           s.TotalStages,
		Role:                  s.CurrentRole,
		Status:                s.Status,
		PersonalizationActive: s.PersonalizationActive,
		Inputs:                s.Decisions(),
		Moments:               s.MagicMoments,
		Tools:                 s.Tools,
		Summary:               view.Summary,
		Message:               view.Message,
	}
}

const genericMessage = "Something went wrong. Please try again."

func (h *Handler) failure(ctx context.Context, logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.ErrorContext(ctx, "unexpected error", "err", err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorSystem), genericMessage)
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		logger.InfoContext(ctx, "request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	msg := ue.UserMessage
	if msg == "" {
		msg = genericMessage
	}
	return errorJSON(status, string(ue.Code), msg)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation, usecase.ErrorUserInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorBoundary, usecase.ErrorSession:
		return http.StatusConflict
	case usecase.ErrorConfiguration:
		return http.StatusServiceUnavailable
	case usecase.ErrorAPI, usecase.ErrorNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func invalidBody() events.APIGatewayProxyResponse {
	return errorJSON(http.StatusBadRequest, string(usecase.ErrorValidation), "The request body is not valid JSON.")
}

func decodeBody(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return json.Unmarshal([]byte(body), v)
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorSystem), genericMessage)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func errorJSON(status int, code, message string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: code, Message: message})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// headerValue looks a header up case-insensitively; API Gateway preserves
// the client's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
