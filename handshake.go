package sfifo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handshake sub-states, tracked for logging and error context.
type hsState uint8

const (
	hsIdle hsState = iota
	hsAwaitingRequest
	hsRequestValidated
	hsResponseSent
	hsRequestSent
	hsAwaitingResponse
	hsAckSent
	hsAuthenticated
)

func (s hsState) String() string {
	switch s {
	case hsIdle:
		return "idle"
	case hsAwaitingRequest:
		return "awaiting_request"
	case hsRequestValidated:
		return "request_validated"
	case hsResponseSent:
		return "response_sent"
	case hsRequestSent:
		return "request_sent"
	case hsAwaitingResponse:
		return "awaiting_response"
	case hsAckSent:
		return "ack_sent"
	case hsAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// handshake drives one Request/Response/Ack attempt. The shared token is
// borrowed only long enough to derive the auth key and is never retained.
type handshake struct {
	cfg     *Sfifo
	role    Role
	authKey []byte
	state   hsState

	rd *Endpoint // inbound records
	wr *Endpoint // outbound records

	tsLocal int64 // timestamp this side generated
	tsPeer  int64 // timestamp received from the peer

	log *zap.Logger
}

func newHandshake(cfg *Sfifo, role Role, token string) (*handshake, error) {
	key, err := deriveAuthKey(token)
	if err != nil {
		return nil, err
	}
	return &handshake{
		cfg:     cfg,
		role:    role,
		authKey: key,
		state:   hsIdle,
		log: cfg.logger.With(
			zap.String("attempt", uuid.NewString()),
			zap.String("role", role.String()),
			zap.String("path", cfg.path),
		),
	}, nil
}

// run performs the handshake and returns the authenticated channel. On any
// failure both endpoints are released and no channel exists on this side.
func (h *handshake) run(ctx context.Context) (*Channel, error) {
	var (
		ch  *Channel
		err error
	)
	if h.role == RoleServer {
		ch, err = h.server(ctx)
	} else {
		ch, err = h.client(ctx)
	}
	if err != nil {
		h.release()
		h.log.Warn("handshake failed",
			zap.String("state", h.state.String()),
			zap.Error(err))
		return nil, err
	}
	h.log.Debug("handshake completed",
		zap.Uint32("peer_pid", ch.peer.Pid),
		zap.String("peer_name", ch.peer.Name))
	return ch, nil
}

func (h *handshake) server(ctx context.Context) (*Channel, error) {
	var err error
	if h.rd, err = h.openEndpoint(ctx, h.cfg.path+c2sSuffix, DirRead); err != nil {
		return nil, err
	}
	if h.wr, err = h.openEndpoint(ctx, h.cfg.path+s2cSuffix, DirWrite); err != nil {
		return nil, err
	}

	h.toState(hsAwaitingRequest)
	req, err := h.readRecord(kindRequest)
	if err != nil {
		return nil, err
	}
	// Validate the request before answering. On rejection nothing is sent
	// back, so a probing client learns nothing about why it failed.
	if err := req.verifyProof(h.authKey, labelClient, req.Timestamp); err != nil {
		return nil, err
	}
	if err := req.verifyFreshness(time.Now(), h.cfg.window); err != nil {
		return nil, err
	}
	h.tsPeer = req.Timestamp
	h.toState(hsRequestValidated)

	resp := newMessage(kindResponse)
	h.tsLocal = resp.Timestamp
	// Echoing the request timestamp binds this response to the request it
	// answers.
	resp.Proof = computeProof(h.authKey, labelServer, resp.Timestamp, req.Timestamp)
	if err := h.writeRecord(resp); err != nil {
		return nil, err
	}
	h.toState(hsResponseSent)

	ack, err := h.readRecord(kindAck)
	if err != nil {
		return nil, err
	}
	if err := ack.verifyProof(h.authKey, labelAck, h.tsLocal); err != nil {
		return nil, err
	}
	if err := ack.verifyFreshness(time.Now(), h.cfg.window); err != nil {
		return nil, err
	}
	h.toState(hsAuthenticated)

	peer := PeerInfo{Pid: req.Pid, Name: req.Name, AuthenticatedAt: time.Now()}
	return h.finish(peer), nil
}

func (h *handshake) client(ctx context.Context) (*Channel, error) {
	var err error
	if h.wr, err = h.openEndpoint(ctx, h.cfg.path+c2sSuffix, DirWrite); err != nil {
		return nil, err
	}
	if h.rd, err = h.openEndpoint(ctx, h.cfg.path+s2cSuffix, DirRead); err != nil {
		return nil, err
	}

	req := newMessage(kindRequest)
	h.tsLocal = req.Timestamp
	req.Proof = computeProof(h.authKey, labelClient, req.Timestamp)
	if err := h.writeRecord(req); err != nil {
		return nil, err
	}
	h.toState(hsRequestSent)

	h.toState(hsAwaitingResponse)
	resp, err := h.readRecord(kindResponse)
	if err != nil {
		// The server answers a bad request with silence, so an absent
		// response after a successful connect means this side was not
		// accepted.
		if IsKind(err, KindTimeout) || IsKind(err, KindPeerClosed) {
			return nil, wrapError(KindAuthRejected, "no handshake response from server", err)
		}
		return nil, err
	}
	if err := resp.verifyProof(h.authKey, labelServer, resp.Timestamp, h.tsLocal); err != nil {
		return nil, err
	}
	if err := resp.verifyFreshness(time.Now(), h.cfg.window); err != nil {
		return nil, err
	}
	h.tsPeer = resp.Timestamp

	ack := newMessage(kindAck)
	ack.Proof = computeProof(h.authKey, labelAck, resp.Timestamp)
	if err := h.writeRecord(ack); err != nil {
		return nil, err
	}
	h.toState(hsAckSent)
	// The client is authenticated as soon as the ack is on the wire; it
	// does not wait for server confirmation.
	h.toState(hsAuthenticated)

	peer := PeerInfo{Pid: resp.Pid, Name: resp.Name, AuthenticatedAt: time.Now()}
	return h.finish(peer), nil
}

// openEndpoint opens one handshake FIFO end under the step timeout, creating
// the FIFO first when it is missing.
func (h *handshake) openEndpoint(ctx context.Context, path string, dir Direction) (*Endpoint, error) {
	if err := CreateFifo(path); err != nil {
		return nil, err
	}
	octx, cancel := opContext(ctx, h.cfg.handshakeTimeout)
	defer cancel()

	h.log.Debug("opening handshake endpoint",
		zap.String("fifo", path),
		zap.String("direction", dir.String()))
	f, err := openPipe(octx, path, dir, true)
	if err != nil {
		return nil, err
	}
	return newEndpoint(f, path, dir, h.cfg.handshakeTimeout, h.cfg.notify), nil
}

func (h *handshake) readRecord(want msgKind) (*handshakeMessage, error) {
	var rec [recordSize]byte
	if _, err := h.rd.ReadFull(rec[:]); err != nil {
		return nil, err
	}
	m, err := decodeMessage(rec[:])
	if err != nil {
		return nil, err
	}
	if m.Kind != want {
		return nil, newError(KindMalformedMessage,
			"expected "+want.String()+" record, got "+m.Kind.String())
	}
	h.log.Debug("handshake record received", zap.String("kind", m.Kind.String()))
	return m, nil
}

func (h *handshake) writeRecord(m *handshakeMessage) error {
	rec, err := m.encode()
	if err != nil {
		return err
	}
	if _, err := h.wr.WriteFull(rec); err != nil {
		return err
	}
	h.log.Debug("handshake record sent", zap.String("kind", m.Kind.String()))
	return nil
}

// finish hands both endpoints to the channel, switching them from the
// handshake step timeout to the configured data timeout.
func (h *handshake) finish(peer PeerInfo) *Channel {
	h.rd.setTimeout(h.cfg.timeout)
	h.wr.setTimeout(h.cfg.timeout)
	ch := newChannel(h.rd, h.wr, peer, h.role == RoleServer)
	h.rd, h.wr = nil, nil
	return ch
}

func (h *handshake) toState(s hsState) {
	h.log.Debug("handshake state",
		zap.String("from", h.state.String()),
		zap.String("to", s.String()))
	h.state = s
}

// release closes whatever endpoints this attempt opened.
func (h *handshake) release() {
	if h.rd != nil {
		_ = h.rd.Close()
	}
	if h.wr != nil {
		_ = h.wr.Close()
	}
}
