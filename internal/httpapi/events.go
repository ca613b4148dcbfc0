package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/profileswitch/internal/notify"
	"github.com/ent0n29/profileswitch/internal/protocol"
)

// dispatch applies one client signal. ownerID, when set, overrides the
// owner named in the message.
func (s *Server) dispatch(ctx context.Context, msg any, ownerID string) (protocol.Ack, error) {
	pick := func(fromMsg string) string {
		if ownerID != "" {
			return ownerID
		}
		return fromMsg
	}

	switch m := msg.(type) {
	case protocol.SignalMove:
		owner := pick(m.OwnerID)
		prev, known := s.host.MoveTo(owner, m.To)
		if m.From != nil {
			prev, known = *m.From, true
		}
		cancelled := known && s.svc.HandleMove(owner, prev, m.To)
		return protocol.Ack{Type: protocol.TypeAck, For: m.Type, OwnerID: owner, Cancelled: cancelled}, nil
	case protocol.SignalDamage:
		owner := pick(m.OwnerID)
		cancelled := s.svc.HandleDamage(owner)
		return protocol.Ack{Type: protocol.TypeAck, For: m.Type, OwnerID: owner, Cancelled: cancelled}, nil
	case protocol.SignalCombatHit:
		s.svc.HandleCombatHit(ctx, m.AttackerID, m.VictimID)
		return protocol.Ack{Type: protocol.TypeAck, For: m.Type, OwnerID: m.VictimID}, nil
	case protocol.SignalDisconnect:
		owner := pick(m.OwnerID)
		res := <-s.svc.HandleDisconnect(context.WithoutCancel(ctx), owner)
		if res.Err != nil {
			return protocol.Ack{}, res.Err
		}
		s.host.Forget(owner)
		return protocol.Ack{Type: protocol.TypeAck, For: m.Type, OwnerID: owner}, nil
	case protocol.SwitchRequest:
		owner := pick(m.OwnerID)
		start := s.svc.StartSwitch
		if m.Force {
			start = s.svc.StartForce
		}
		req, err := start(ctx, owner, m.Profile)
		if err != nil {
			return protocol.Ack{}, err
		}
		return protocol.Ack{Type: protocol.TypeAck, For: m.Type, OwnerID: owner, RequestID: req.ID}, nil
	default:
		return protocol.Ack{}, protocol.ErrUnsupportedType
	}
}

// handleSignal accepts the websocket signal messages over plain HTTP.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	owner := ownerParam(r)
	raw = withOwner(raw, owner)
	msg, err := protocol.ParseClientMessage(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_client_message", err.Error())
		return
	}
	ack, err := s.dispatch(r.Context(), msg, owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ack)
}

// withOwner fills owner_id when the body omits it so the URL owner is
// enough for HTTP callers.
func withOwner(raw []byte, owner string) []byte {
	var fields map[string]any
	if owner == "" || json.Unmarshal(raw, &fields) != nil {
		return raw
	}
	if id, _ := fields["owner_id"].(string); id != "" {
		return raw
	}
	fields["owner_id"] = owner
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}

// handleEventsWS streams bus events to the client and applies the signals
// it sends. owner_id narrows the stream to one owner.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event stream not configured")
		return
	}
	filter := strings.TrimSpace(r.URL.Query().Get("owner_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.events.Subscribe(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("subscribe to profile events failed")
		return
	}

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					cancel()
					return
				}
				if filter != "" && ev.OwnerID != filter {
					continue
				}
				msg = protocol.NewProfileEvent(ev)
			case msg = <-outbound:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		reply := s.handleClientFrame(ctx, data, filter)
		select {
		case outbound <- reply:
		case <-ctx.Done():
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			s.metrics.WSMessage("dropped", "reply")
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) handleClientFrame(ctx context.Context, data []byte, owner string) any {
	parsed, err := protocol.ParseClientMessage(data)
	if err != nil {
		return protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "invalid_client_message",
			Detail: err.Error(),
		}
	}
	if t, ok := messageTypeOf(parsed); ok {
		s.metrics.WSMessage("inbound", string(t))
	}
	ack, err := s.dispatch(ctx, parsed, owner)
	if err != nil {
		_, code := statusFor(err)
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			OwnerID:   owner,
			Code:      code,
			Retryable: !errors.Is(err, protocol.ErrUnsupportedType) && code != "invalid_request",
			Detail:    err.Error(),
		}
	}
	return ack
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SignalMove:
		return m.Type, true
	case protocol.SignalDamage:
		return m.Type, true
	case protocol.SignalCombatHit:
		return m.Type, true
	case protocol.SignalDisconnect:
		return m.Type, true
	case protocol.SwitchRequest:
		return m.Type, true
	case protocol.ProfileEvent:
		return m.Type, true
	case protocol.Ack:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

var _ EventSource = (*notify.WatermillBus)(nil)
