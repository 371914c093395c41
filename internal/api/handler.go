package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/resource"
	"github.com/avalanche-app/rockclient/pkg/model"
	"github.com/avalanche-app/rockclient/pkg/observable"
)

// Session is the part of the credential manager the gateway drives.
type Session interface {
	Login(ctx context.Context, username, password string) model.LoginResult
	Logout(ctx context.Context)
}

// Handler exposes the resource cache and the session over HTTP.
type Handler struct {
	logger  *zap.Logger
	orch    *resource.Orchestrator
	session Session
}

func NewHandler(logger *zap.Logger, orch *resource.Orchestrator, session Session) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger, orch: orch, session: session}
}

// GetResource runs a cache-first fetch and returns the first payload available.
// A background correction, if any, lands in the cache for the next call.
func (h *Handler) GetResource(c *fiber.Ctx) error {
	path, refresh := resourcePath(c)
	holder := observable.New[string]()
	resource.Fetch(c.UserContext(), h.orch, holder, path, refresh)

	payload, ok := holder.Get()
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.SendString(payload)
}

func (h *Handler) PostResource(c *fiber.Ctx) error {
	body := map[string]string{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	path, _ := resourcePath(c)

	holder := observable.New[string]()
	resource.Upload(c.UserContext(), h.orch, holder, path, body)

	payload, ok := holder.Get()
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.SendString(payload)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username and password are required"})
	}

	result := h.session.Login(c.UserContext(), req.Username, req.Password)
	switch result {
	case model.LoginSuccess:
		return c.JSON(fiber.Map{"result": result.String()})
	case model.LoginFailure:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"result": result.String()})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"result": result.String()})
	}
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	h.session.Logout(c.UserContext())
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) ClearCache(c *fiber.Ctx) error {
	if err := h.orch.ClearCache(c.UserContext()); err != nil {
		h.logger.Error("api.clear_cache_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// resourcePath rebuilds the upstream path from the wildcard and the query string, minus
// the gateway's own refresh flag.
func resourcePath(c *fiber.Ctx) (string, bool) {
	path := "/" + c.Params("*")
	q, _ := url.ParseQuery(string(c.Request().URI().QueryString()))
	refresh := q.Get("refresh") == "true" || q.Get("refresh") == "1"
	q.Del("refresh")
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	return path, refresh
}
