package gateway

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"boardsync/engine"
)

type streamFrame struct {
	Topic     string `json:"topic"`
	BoardView any    `json:"boardView,omitempty"`
	Conflicts any    `json:"conflicts,omitempty"`
	Presence  any    `json:"presence,omitempty"`
}

// streamChanges pushes re-projected state over SSE whenever the engine
// reports a change. Clients pass the board id and filter as query params;
// each notice re-runs the projection so the frame is always current.
func (g *gateway) streamChanges(c echo.Context) error {
	if !g.authorized(c) {
		return c.NoContent(http.StatusUnauthorized)
	}
	boardID := c.QueryParam("board")
	filter := filterFromQuery(c)

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ctx := c.Request().Context()
	ch := g.eng.Subscribe()
	defer g.eng.Unsubscribe(ch)

	// First frame carries the full current state; later frames follow notices.
	notice := engine.Notice{Topic: engine.TopicView, BoardID: boardID}
	for {
		frame := streamFrame{Topic: notice.Topic}
		switch notice.Topic {
		case engine.TopicConflicts:
			frame.Conflicts = g.eng.Conflicts()
		case engine.TopicPresence:
			tracker := g.eng.Presence()
			frame.Presence = map[string]any{
				"users":   tracker.OnlineUsers(),
				"cursors": tracker.Cursors(),
			}
		default:
			if boardID != "" {
				if v, ok := g.eng.BoardView(boardID, filter); ok {
					frame.BoardView = v
				}
			}
		}

		data, err := sonic.Marshal(frame)
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		if _, err := c.Response().Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := c.Response().Write(data); err != nil {
			return err
		}
		if _, err := c.Response().Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return nil
		case notice = <-ch:
		}
	}
}
