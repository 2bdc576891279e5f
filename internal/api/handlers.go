package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const errNoData = "no data yet"

type errorResponse struct {
	Error string `json:"error"`
}

// GET /api/scores
func (s *Server) handleScores(c echo.Context) error {
	snap := s.ctl.Snapshot()
	if !snap.Ready {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errNoData})
	}
	return c.JSON(http.StatusOK, snap)
}

// GET /api/session
func (s *Server) handleSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctl.Snapshot())
}

// POST /api/session/start
func (s *Server) handleStart(c echo.Context) error {
	s.ctl.Start()
	return c.JSON(http.StatusOK, s.ctl.Snapshot())
}

// POST /api/session/pause
func (s *Server) handlePause(c echo.Context) error {
	s.ctl.Pause()
	return c.JSON(http.StatusOK, s.ctl.Snapshot())
}

// POST /api/session/stop returns the finished session, or 204 when idle.
func (s *Server) handleStop(c echo.Context) error {
	sum := s.ctl.Stop()
	if sum == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, sum)
}

// GET /api/trip
func (s *Server) handleTrip(c echo.Context) error {
	if s.trips == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "trip tracking disabled"})
	}
	st, ok := s.trips.Trip()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errNoData})
	}
	return c.JSON(http.StatusOK, st)
}

const wsWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other local origins
	},
}

// GET /ws/scores streams every published snapshot as a JSON text message.
// Slow clients skip intermediate snapshots.
func (s *Server) handleScoresWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return nil
	}

	snaps, cancel := s.ctl.Subscribe(s.wsBuffer)
	defer cancel()

	// Drain client frames so close and ping control frames are handled.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-done
	}()

	remote := c.Request().RemoteAddr
	s.log.Debug("websocket client connected", zap.String("remote", remote))
	for {
		select {
		case <-done:
			s.log.Debug("websocket client gone", zap.String("remote", remote))
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Warn("websocket write error", zap.Error(err))
				}
				return nil
			}
		}
	}
}
