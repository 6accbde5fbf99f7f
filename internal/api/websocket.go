package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/bridge"
	"github.com/dmdmdm-nz/netstatusd/internal/runtime"
)

const (
	// outboundLimit bounds frames waiting for a slow client; the oldest are
	// dropped first.
	outboundLimit = 64
	readLimit     = 64 << 10
)

var errContainerClosed = errors.New("web container closed")

// wsContainer is a web container reached over one WebSocket.
type wsContainer struct {
	id   string
	conn *websocket.Conn
	out  *runtime.SubQueue[[]byte]
}

func (c *wsContainer) ID() string { return c.id }

// Send queues msg for the writer goroutine and never blocks.
func (c *wsContainer) Send(msg bridge.Envelope) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if !c.out.Enqueue(b) {
		return errContainerClosed
	}
	return nil
}

func (c *wsContainer) writeLoop(ctx context.Context) {
	for b := range c.out.Chan() {
		if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
			log.WithField("container", c.id).WithError(err).Debug("Failed to write to web container")
			return
		}
	}
}

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// serveContainer runs one web container until the socket closes, feeding
// every text frame to the plugin.
func serveContainer(s *Service, w http.ResponseWriter, r *http.Request) {
	conn, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Debug("Failed to accept web container")
		return
	}
	conn.SetReadLimit(readLimit)

	c := &wsContainer{
		id:   uuid.NewString(),
		conn: conn,
		out:  runtime.NewBoundedSubQueue[[]byte](1, outboundLimit),
	}
	if !s.addContainer(c) {
		c.out.Close()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.WithField("container", c.id)
	logger.Info("Web container attached")

	defer func() {
		s.plugin.Detach(c)
		s.removeContainer(c)
		c.out.Close()
		conn.Close(websocket.StatusNormalClosure, "closing")
		if n := c.out.Dropped(); n > 0 {
			logger.WithField("dropped", n).Warn("Web container was too slow, frames dropped")
		}
		logger.Info("Web container detached")
	}()

	c.out.SetPaused(false)
	go func() {
		c.writeLoop(ctx)
		cancel()
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.WithError(err).Debug("WebSocket read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Debug("Ignoring binary frame")
			continue
		}
		s.plugin.HandleMessage(ctx, c, data)
	}
}
