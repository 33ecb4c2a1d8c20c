// Package gateway exposes the sync engine over HTTP: command submission,
// board views, conflict management, presence and an SSE change feed.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/engine"
	"boardsync/presence"
	"boardsync/view"
)

const commandsMaxSize = 1 << 20

// BoardEngine is the slice of the engine the gateway drives.
type BoardEngine interface {
	BeginCreate(entityType string, patch domain.Patch) (string, error)
	BeginUpdate(entityType, id string, patch domain.Patch) error
	BeginMoveTask(taskID, targetColumnID string, targetPos int) error
	BeginDelete(entityType, id string) error
	BoardView(boardID string, f domain.FilterState) (view.BoardView, bool)
	Boards() []domain.Board
	Conflicts() []engine.Conflict
	AllConflicts() []engine.Conflict
	Resolve(conflictID, strategy string, chooser engine.FieldChooser) error
	PendingCount() int
	Presence() *presence.Tracker
	Resync(ctx context.Context, boardIDs ...string) error
	Subscribe() chan engine.Notice
	Unsubscribe(ch chan engine.Notice)
}

type gateway struct {
	eng    BoardEngine
	logger *log.Logger
	token  string
}

// Register wires the gateway routes onto the given Echo instance. An empty
// token disables bearer auth (local single-user mode).
func Register(e *echo.Echo, eng BoardEngine, logger *log.Logger, token string) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	g := &gateway{eng: eng, logger: logger, token: token}

	e.GET("/healthz", g.healthz)
	e.GET("/api/boards/:id/view", g.withAuth(g.getBoardView))
	e.POST("/api/boards/:id/resync", g.withAuth(g.postResync))
	e.POST("/api/commands", g.withAuth(g.postCommands))
	e.GET("/api/conflicts", g.withAuth(g.getConflicts))
	e.POST("/api/conflicts/:id/resolve", g.withAuth(g.postResolve))
	e.GET("/api/presence", g.withAuth(g.getPresence))
	e.GET("/stream", g.streamChanges)
}

func (g *gateway) withAuth(h echo.HandlerFunc) echo.HandlerFunc {
	if g.token == "" {
		return h
	}
	return func(c echo.Context) error {
		if !g.authorized(c) {
			return c.NoContent(http.StatusUnauthorized)
		}
		return h(c)
	}
}

func (g *gateway) authorized(c echo.Context) bool {
	if g.token == "" {
		return true
	}
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if qp := c.QueryParam("token"); qp != "" {
			authHeader = "Bearer " + qp
		}
	}
	parts := strings.SplitN(authHeader, " ", 2)
	return len(parts) == 2 && parts[0] == "Bearer" && parts[1] == g.token
}

func (g *gateway) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": g.eng.PendingCount(),
	})
}

func (g *gateway) getBoardView(c echo.Context) error {
	f := filterFromQuery(c)
	v, ok := g.eng.BoardView(c.Param("id"), f)
	if !ok {
		return c.String(http.StatusNotFound, "board not found")
	}
	return c.JSON(http.StatusOK, v)
}

func (g *gateway) postResync(c echo.Context) error {
	if err := g.eng.Resync(c.Request().Context(), c.Param("id")); err != nil {
		g.logger.WithError(err).Error("resync failed")
		return c.String(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

// command is one client mutation. Data carries the creation payload or the
// update patch; move commands use the target fields instead.
type command struct {
	Op             string          `json:"op"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	TargetColumnID string          `json:"targetColumnId,omitempty"`
	TargetPosition int             `json:"targetPosition,omitempty"`
}

type commandResult struct {
	Op       string `json:"op"`
	EntityID string `json:"entityId,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (g *gateway) postCommands(c echo.Context) error {
	lr := io.LimitReader(c.Request().Body, commandsMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()

	cmds := make([]command, 0, 4)
	if err := dec.Decode(&cmds); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	results := make([]commandResult, 0, len(cmds))
	for _, cmd := range cmds {
		r := commandResult{Op: cmd.Op, EntityID: cmd.EntityID}
		switch cmd.Op {
		case "create":
			patch, err := domain.PatchFromJSON(cmd.Data)
			if err == nil {
				r.EntityID, err = g.eng.BeginCreate(cmd.EntityType, patch)
			}
			if err != nil {
				r.Error = err.Error()
			}
		case "update":
			patch, err := domain.PatchFromJSON(cmd.Data)
			if err == nil {
				err = g.eng.BeginUpdate(cmd.EntityType, cmd.EntityID, patch)
			}
			if err != nil {
				r.Error = err.Error()
			}
		case "move":
			if err := g.eng.BeginMoveTask(cmd.EntityID, cmd.TargetColumnID, cmd.TargetPosition); err != nil {
				r.Error = err.Error()
			}
		case "delete":
			if err := g.eng.BeginDelete(cmd.EntityType, cmd.EntityID); err != nil {
				r.Error = err.Error()
			}
		default:
			r.Error = "unknown op " + cmd.Op
		}
		results = append(results, r)
	}
	return c.JSON(http.StatusAccepted, results)
}

func (g *gateway) getConflicts(c echo.Context) error {
	if c.QueryParam("all") == "true" {
		return c.JSON(http.StatusOK, g.eng.AllConflicts())
	}
	return c.JSON(http.StatusOK, g.eng.Conflicts())
}

type resolveRequest struct {
	Strategy string            `json:"strategy"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func (g *gateway) postResolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	var chooser engine.FieldChooser
	if req.Strategy == engine.MergeFields {
		picks := req.Fields
		chooser = func(field string, local, remote any) any {
			if picks[field] == "remote" {
				return remote
			}
			return local
		}
	}
	if err := g.eng.Resolve(c.Param("id"), req.Strategy, chooser); err != nil {
		return c.String(http.StatusUnprocessableEntity, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) getPresence(c echo.Context) error {
	tracker := g.eng.Presence()
	return c.JSON(http.StatusOK, map[string]any{
		"users":   tracker.OnlineUsers(),
		"cursors": tracker.Cursors(),
	})
}

func filterFromQuery(c echo.Context) domain.FilterState {
	f := domain.FilterState{
		Search:        c.QueryParam("q"),
		HideCompleted: c.QueryParam("hideCompleted") == "true",
	}
	if v := c.QueryParams()["assignee"]; len(v) > 0 {
		f.AssigneeIDs = v
	}
	if v := c.QueryParams()["priority"]; len(v) > 0 {
		f.Priorities = v
	}
	if v := c.QueryParams()["label"]; len(v) > 0 {
		f.LabelIDs = v
	}
	if v := c.QueryParam("dueFrom"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.DueFrom = n
		}
	}
	if v := c.QueryParam("dueTo"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.DueTo = n
		}
	}
	return f
}
