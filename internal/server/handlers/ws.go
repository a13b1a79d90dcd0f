package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/quickcast/internal/errors"
	"github.com/3leaps/quickcast/pkg/jobregistry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Subscriber streams job snapshots. jobregistry.MemoryStore implements it.
type Subscriber interface {
	Subscribe(id string) (<-chan *jobregistry.Job, func(), error)
}

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.origins {
		if allowed == "*" || strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// Watch handles GET /api/ws/jobs/{jobID}. It sends the status document on
// connect and after every update, then closes once the job is terminal.
func (a *API) Watch(w http.ResponseWriter, r *http.Request) {
	sub, ok := a.jobs.Store().(Subscriber)
	if !ok {
		respondWithError(w, r, apperrors.New(http.StatusServiceUnavailable, apperrors.CodeServiceUnavailable, "Live updates are not supported by this job store"))
		return
	}

	id := chi.URLParam(r, "jobID")
	updates, cancel, err := sub.Subscribe(id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer cancel()

	current, err := a.jobs.Store().Get(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("Websocket upgrade failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	log := a.log.With(zap.String("job_id", id))
	closed := make(chan struct{})
	go readPump(conn, closed)

	send := func(j *jobregistry.Job) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(NewStatusDocument(j)); err != nil {
			log.Debug("Websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	if !send(current) {
		return
	}
	last := current.UpdatedAt

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if snap.UpdatedAt.Before(last) {
				continue
			}
			last = snap.UpdatedAt
			if !send(snap) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// signals when the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
