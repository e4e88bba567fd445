package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
	"github.com/scopedeck/scopedeck/internal/health"
	"github.com/scopedeck/scopedeck/internal/intake"
	"github.com/scopedeck/scopedeck/internal/metrics"
	"github.com/scopedeck/scopedeck/internal/store"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store     *store.Store
	policy    *intake.Policy
	checker   *health.Checker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, policy *intake.Policy, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:     st,
		policy:    policy,
		checker:   checker,
		metrics:   m,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if req.Name == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_name", "Bad Request",
			"Project name is required")
	}

	project, err := h.store.CreateProject(req.Name, req.Description)
	if err != nil {
		h.logger.Error().Err(err).Msg("project creation failed")
		return h.intakeProblem(c, err)
	}

	h.logger.Info().Str("project_id", project.ID).Str("name", project.Name).Msg("project created")
	return c.Status(fiber.StatusCreated).JSON(ProjectResponse{Project: project})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	project, err := h.store.LoadProject(c.Params("id"))
	if err != nil {
		return h.intakeProblem(c, err)
	}
	return c.JSON(ProjectResponse{Project: project})
}

// StartIntake handles POST /api/v1/projects/:id/intake/start.
// Starting always resets: any prior conversation for the project is replaced.
func (h *Handlers) StartIntake(c *fiber.Ctx) error {
	var req StartIntakeRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Message == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_message", "Bad Request",
			"Message is required")
	}

	id := c.Params("id")
	_, state, unlock, ok := h.beginIntakeOp(c, id)
	if !ok {
		return nil
	}
	defer unlock()

	res := h.policy.StartIntake(state, req.Message)

	if err := h.store.SaveSession(id, state); err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("session save failed")
		return h.intakeProblem(c, err)
	}
	return c.JSON(StartIntakeResponse{Question: res.Question, Options: res.Options})
}

// IntentChoice handles POST /api/v1/projects/:id/intake/intent.
func (h *Handlers) IntentChoice(c *fiber.Ctx) error {
	var req IntentChoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if _, err := intake.ParseIntentTag(req.Choice); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_choice", "Bad Request",
			"Unknown intent choice: "+req.Choice)
	}

	id := c.Params("id")
	project, state, unlock, ok := h.beginIntakeOp(c, id)
	if !ok {
		return nil
	}
	defer unlock()

	tag, res, err := h.policy.ResolveIntent(c.Context(), state, req.Choice, project.Context())
	if err != nil {
		return h.intakeProblem(c, err)
	}

	if err := h.store.AddProjectTag(id, tag); err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("tag update failed")
		return h.intakeProblem(c, err)
	}
	if err := h.store.SaveSession(id, state); err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("session save failed")
		return h.intakeProblem(c, err)
	}
	return c.JSON(QuestionResponse{Message: res.Message, QuestionsAsked: state.QuestionsAsked})
}

// Answer handles POST /api/v1/projects/:id/intake/answer.
func (h *Handlers) Answer(c *fiber.Ctx) error {
	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Answer == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_answer", "Bad Request",
			"Answer is required")
	}

	id := c.Params("id")
	project, state, unlock, ok := h.beginIntakeOp(c, id)
	if !ok {
		return nil
	}
	defer unlock()

	res, err := h.policy.ReviewAnswer(c.Context(), state, req.Answer, project.Context())
	if err != nil {
		return h.intakeProblem(c, err)
	}

	if !res.NeedsMore {
		if err := h.store.SaveProjectFields(id, store.FieldsFromSummary(res.Summary)); err != nil {
			h.logger.Error().Err(err).Str("project_id", id).Msg("summary save failed")
			return h.intakeProblem(c, err)
		}
		if h.metrics != nil {
			h.metrics.RecordCompletion("review")
		}
	}
	if err := h.store.SaveSession(id, state); err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("session save failed")
		return h.intakeProblem(c, err)
	}
	return c.JSON(AnswerResponse{
		NeedsMore:      res.NeedsMore,
		Message:        res.Message,
		QuestionsAsked: state.QuestionsAsked,
		Summary:        res.Summary,
	})
}

// Finalize handles POST /api/v1/projects/:id/intake/finalize.
func (h *Handlers) Finalize(c *fiber.Ctx) error {
	id := c.Params("id")
	project, state, unlock, ok := h.beginIntakeOp(c, id)
	if !ok {
		return nil
	}
	defer unlock()

	summary, err := h.policy.SummarizeNow(c.Context(), state, project.Context())
	if err != nil {
		return h.intakeProblem(c, err)
	}

	if err := h.store.SaveProjectFields(id, store.FieldsFromSummary(summary)); err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("summary save failed")
		return h.intakeProblem(c, err)
	}
	if err := h.store.SaveSession(id, state); err != nil {
		h.logger.Error().Err(err).Str("project_id", id).Msg("session save failed")
		return h.intakeProblem(c, err)
	}
	if h.metrics != nil {
		h.metrics.RecordCompletion("forced")
	}
	return c.JSON(SummaryResponse{Summary: summary})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	integrations := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		integrations[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	uptime := time.Since(h.startTime).Round(time.Second).String()

	return c.JSON(HealthDetailResponse{
		Status:       overall,
		Integrations: integrations,
		Uptime:       uptime,
		Version:      Version,
	})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// beginIntakeOp loads the project, takes the per-project session lock, and
// loads the dialogue state. On failure the problem response is already
// written and ok is false. The caller must defer unlock when ok.
func (h *Handlers) beginIntakeOp(c *fiber.Ctx, id string) (*store.Project, *intake.DialogueState, func(), bool) {
	project, err := h.store.LoadProject(id)
	if err != nil {
		_ = h.intakeProblem(c, err)
		return nil, nil, nil, false
	}

	lock := h.store.Acquire(id)
	if !lock.TryLock() {
		_ = h.intakeProblem(c, serrors.ErrSessionBusy)
		return nil, nil, nil, false
	}

	state, err := h.store.LoadSession(id)
	if err != nil {
		lock.Unlock()
		h.logger.Error().Err(err).Str("project_id", id).Msg("session load failed")
		_ = h.intakeProblem(c, err)
		return nil, nil, nil, false
	}
	return project, state, lock.Unlock, true
}

// intakeProblem maps domain errors onto problem responses. Assistant
// failures deliberately collapse into a single retryable 502: callers only
// need to know that trying again may help.
func (h *Handlers) intakeProblem(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, serrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found")
	case errors.Is(err, serrors.ErrSessionBusy):
		return problemResponse(c, fiber.StatusConflict,
			"session_busy", "Conflict",
			"Another intake request for this project is in progress")
	case errors.Is(err, serrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusConflict,
			"invalid_state", "Conflict",
			err.Error())
	case errors.Is(err, serrors.ErrConfiguration):
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"assistant_not_configured", "Service Unavailable",
			"The assistant endpoint is not configured")
	case errors.Is(err, serrors.ErrInvalidMessage), serrors.IsRetryable(err):
		return problemResponse(c, fiber.StatusBadGateway,
			"assistant_unavailable", "Bad Gateway",
			"The assistant could not produce a usable reply. Please try again.")
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return problemResponse(c, fiber.StatusInternalServerError,
			"internal_error", "Internal Server Error",
			"An internal error occurred")
	}
}
