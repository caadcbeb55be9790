package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/flitsinc/liminal-board/internal/idgen"
	"github.com/flitsinc/liminal-board/internal/session"
	"go.uber.org/zap"
)

const maxFrameBytes = 1 << 20

// Envelope is the JSON frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

type wsReader interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// socketEmitter adapts a websocket connection to session.Emitter.
type socketEmitter struct {
	w wsWriter
}

func (e *socketEmitter) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return e.w.Write(ctx, websocket.MessageText, frame)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.Sessions == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("session manager"))
		return
	}
	log := s.logger()

	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns(s.AllowedOrigins)}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Debug("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	ctx := r.Context()
	id := idgen.New()
	meta := session.Meta{RemoteAddr: r.RemoteAddr, UserAgent: r.UserAgent()}
	if _, err := s.Sessions.Connect(ctx, id, &socketEmitter{w: conn}, meta); err != nil {
		log.Warn("session connect", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	defer s.Sessions.Disconnect(context.WithoutCancel(ctx), id)

	err = readFrames(ctx, conn, log, func(event string, data json.RawMessage) {
		s.Sessions.Dispatch(id, event, data)
	})
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	default:
		if !errors.Is(err, context.Canceled) {
			log.Debug("websocket read ended", zap.String("session", id), zap.Error(err))
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// readFrames decodes envelopes until the reader fails. Binary and undecodable
// frames are skipped.
func readFrames(ctx context.Context, r wsReader, log *zap.Logger, dispatch func(event string, data json.RawMessage)) error {
	for {
		typ, data, err := r.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			log.Debug("skipping undecodable frame", zap.Int("bytes", len(data)))
			continue
		}
		dispatch(env.Event, env.Data)
	}
}
