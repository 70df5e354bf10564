package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/yenjordan/terminus/internal/apperror"
	"github.com/yenjordan/terminus/internal/execution"
	"github.com/yenjordan/terminus/internal/logger"
	"github.com/yenjordan/terminus/internal/middleware"
	"github.com/yenjordan/terminus/internal/models"
	"github.com/yenjordan/terminus/internal/repository"
	"github.com/yenjordan/terminus/internal/workspace"
)

// ExecuteHandler is the "Run code" button's HTTP path: a one-shot
// execution independent of the WebSocket connection, sharing the same
// Execution Engine and auth.Verifier as the broker.
type ExecuteHandler struct {
	engine    *execution.Engine
	workspace *workspace.Manager
	store     repository.Store
}

func NewExecuteHandler(engine *execution.Engine, wsMgr *workspace.Manager, store repository.Store) *ExecuteHandler {
	return &ExecuteHandler{engine: engine, workspace: wsMgr, store: store}
}

func (h *ExecuteHandler) RegisterRoutes(router fiber.Router, authMiddleware fiber.Handler) {
	router.Post("/terminal/code/execute", authMiddleware, h.handleExecute)
}

type executeRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	InputData string `json:"input_data"`
}

type executeResponse struct {
	Output     string `json:"output"`
	Error      string `json:"error"`
	ExitStatus int    `json:"exit_status"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
}

func (h *ExecuteHandler) handleExecute(c *fiber.Ctx) error {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	var req executeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	numericID, err := strconv.ParseInt(req.SessionID, 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid session_id")
	}

	session, err := h.store.GetSession(numericID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	if !principal.CanAccess(session.UserID) {
		return fiber.NewError(fiber.StatusForbidden, "not authorized for this session")
	}

	workDir, err := h.workspace.Materialize(req.SessionID)
	if err != nil {
		logger.Errorf("execute: materialize failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "workspace unavailable")
	}

	language := req.Language
	if language == "" {
		language = "python"
	}

	result, err := h.engine.Execute(c.Context(), models.ExecutionJob{
		Language: language,
		Code:     req.Code,
		Stdin:    req.InputData,
		Cwd:      workDir,
	})
	if err != nil {
		status := fiber.StatusInternalServerError
		if apperror.CodeOf(err) == apperror.ExecutionError {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(executeResponse{
		Output:     result.Stdout,
		Error:      result.Stderr,
		ExitStatus: result.ExitStatus,
		DurationMS: result.DurationMS,
		TimedOut:   result.TimedOut,
	})
}
