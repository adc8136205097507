package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/models"
)

const (
	defaultEventPageSize = 500
	maxEventPageSize     = 1000
)

// listEventsHandler handles GET /api/v1/sessions/:id/events?since=&since_seq=&limit=.
// Both cursors are exclusive; since addresses the global id, since_seq the
// per-session sequence.
func (s *Server) listEventsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	since, err := parseInt64Param(c.QueryParam("since"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be an integer")
	}
	sinceSeq := int64(-1)
	if v := c.QueryParam("since_seq"); v != "" {
		sinceSeq, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_seq: must be an integer")
		}
	}
	limit := defaultEventPageSize
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a positive integer")
		}
		if n > maxEventPageSize {
			n = maxEventPageSize
		}
		limit = n
	}

	ctx := c.Request().Context()
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return mapServiceError(err)
	}
	evts, err := s.bus.SessionEventsSince(ctx, sessionID, since, sinceSeq, limit)
	if err != nil {
		return mapServiceError(err)
	}
	if evts == nil {
		evts = []*models.Event{}
	}
	return c.JSON(http.StatusOK, evts)
}

// sseHandler handles GET /event?session_id=&since=. It replays the backlog
// after the cursor, then alternates between waiting for publishes and
// emitting synthetic heartbeat frames. The Last-Event-Id header wins over
// the since parameter.
func (s *Server) sseHandler(c *echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	cursor, err := parseInt64Param(c.QueryParam("since"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be an integer")
	}
	if v := c.Request().Header.Get("Last-Event-Id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid Last-Event-Id: must be an integer")
		}
		cursor = id
	}

	ctx := c.Request().Context()
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return mapServiceError(err)
	}

	var w http.ResponseWriter = c.Response()
	flusher, ok := w.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	latest, err := s.bus.LatestEventID(ctx)
	if err != nil {
		s.logger.Warn("Failed to read latest event id", "error", err)
	}
	if err := writeFrame(w, flusher, 0, events.TypeConnected, events.ConnectedPayload{
		ServerTime: float64(time.Now().UnixNano()) / 1e9,
		LatestID:   latest,
	}); err != nil {
		return nil
	}

	waitTimeout := s.cfg.SSEWaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 15 * time.Second
	}
	heartbeat := s.cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = waitTimeout
	}
	lastWrite := time.Now()

	for {
		evts, err := s.bus.EventsSince(ctx, sessionID, cursor, defaultEventPageSize)
		if err != nil {
			s.logger.Warn("SSE backlog query failed", "session_id", sessionID, "error", err)
			return nil
		}
		for _, e := range evts {
			if err := writeEvent(w, flusher, e); err != nil {
				return nil
			}
			cursor = e.ID
			lastWrite = time.Now()
		}
		if len(evts) == defaultEventPageSize {
			continue
		}

		// Waits run in short slices so an idle stream still heartbeats on
		// the configured interval rather than on the wait timeout.
		if signalled := s.bus.WaitForNew(ctx, waitTimeout); !signalled {
			if ctx.Err() != nil {
				return nil
			}
			if time.Since(lastWrite) < heartbeat {
				continue
			}
			if err := writeFrame(w, flusher, 0, events.TypeHeartbeat, map[string]any{}); err != nil {
				return nil
			}
			lastWrite = time.Now()
		}
	}
}

// writeEvent emits one persisted event as an SSE frame named "event".
func writeEvent(w http.ResponseWriter, flusher http.Flusher, e *models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: event\ndata: %s\n\n", e.ID, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeFrame emits a synthetic frame (connected, heartbeat) with id 0.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, id int64, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func parseInt64Param(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
