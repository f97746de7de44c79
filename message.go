package sfifo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Handshake message kinds.
type msgKind uint8

const (
	kindRequest msgKind = iota + 1
	kindResponse
	kindAck
)

func (k msgKind) String() string {
	switch k {
	case kindRequest:
		return "request"
	case kindResponse:
		return "response"
	case kindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Wire format: kind(1) | pid(4) | nameLen(1) | name(32, padded) | ts(8) |
// proof(32), big-endian integers. One fixed-length record per handshake
// step, so no external framing is needed.
const (
	proofSize  = sha256.Size
	nameField  = 32
	recordSize = 1 + 4 + 1 + nameField + 8 + proofSize
)

// Role labels bound into each proof so a captured record cannot be replayed
// as a different step or direction.
const (
	labelClient = "client"
	labelServer = "server"
	labelAck    = "ack"
)

// HKDF labels, versioned so a future format change cannot collide with keys
// derived today.
const (
	authKeySalt = "sfifo/auth-key/v1"
	authKeyInfo = "sfifo-handshake"
	authKeySize = 32
)

// handshakeMessage is one fixed-length handshake record.
type handshakeMessage struct {
	Kind      msgKind
	Pid       uint32
	Name      string
	Timestamp int64
	Proof     [proofSize]byte
}

// deriveAuthKey expands the shared token into the HMAC key. The token is
// borrowed for the duration of the call and never stored.
func deriveAuthKey(token string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, []byte(token), []byte(authKeySalt), []byte(authKeyInfo))
	key := make([]byte, authKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, wrapError(KindIoFailure, "derive auth key", err)
	}
	return key, nil
}

// computeProof returns HMAC-SHA256(authKey, label || ts || echo...).
func computeProof(authKey []byte, label string, ts int64, echo ...int64) [proofSize]byte {
	mac := hmac.New(sha256.New, authKey)
	mac.Write([]byte(label))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts))
	mac.Write(buf[:])
	for _, e := range echo {
		binary.BigEndian.PutUint64(buf[:], uint64(e))
		mac.Write(buf[:])
	}

	var out [proofSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// newMessage builds a record for this process with the current timestamp.
// The proof is filled in by the handshake step that knows which timestamps
// it must bind.
func newMessage(kind msgKind) *handshakeMessage {
	name := processName()
	if len(name) > nameField {
		name = name[:nameField]
	}
	return &handshakeMessage{
		Kind:      kind,
		Pid:       processID(),
		Name:      name,
		Timestamp: time.Now().Unix(),
	}
}

func (m *handshakeMessage) encode() ([]byte, error) {
	name := []byte(m.Name)
	if len(name) > nameField {
		return nil, newError(KindMalformedMessage,
			fmt.Sprintf("process name %q exceeds %d bytes", m.Name, nameField))
	}

	rec := make([]byte, recordSize)
	rec[0] = byte(m.Kind)
	binary.BigEndian.PutUint32(rec[1:5], m.Pid)
	rec[5] = byte(len(name))
	copy(rec[6:6+nameField], name)
	binary.BigEndian.PutUint64(rec[6+nameField:14+nameField], uint64(m.Timestamp))
	copy(rec[14+nameField:], m.Proof[:])
	return rec, nil
}

func decodeMessage(rec []byte) (*handshakeMessage, error) {
	if len(rec) != recordSize {
		return nil, newError(KindMalformedMessage,
			fmt.Sprintf("handshake record is %d bytes, want %d", len(rec), recordSize))
	}
	kind := msgKind(rec[0])
	if kind < kindRequest || kind > kindAck {
		return nil, newError(KindMalformedMessage,
			fmt.Sprintf("unknown handshake kind %d", rec[0]))
	}
	nameLen := int(rec[5])
	if nameLen > nameField {
		return nil, newError(KindMalformedMessage,
			fmt.Sprintf("name length %d exceeds field size %d", nameLen, nameField))
	}

	m := &handshakeMessage{
		Kind:      kind,
		Pid:       binary.BigEndian.Uint32(rec[1:5]),
		Name:      string(rec[6 : 6+nameLen]),
		Timestamp: int64(binary.BigEndian.Uint64(rec[6+nameField : 14+nameField])),
	}
	copy(m.Proof[:], rec[14+nameField:])
	return m, nil
}

// verifyProof compares the received proof against the expected digest in
// constant time.
func (m *handshakeMessage) verifyProof(authKey []byte, label string, ts int64, echo ...int64) error {
	expect := computeProof(authKey, label, ts, echo...)
	if !hmac.Equal(expect[:], m.Proof[:]) {
		return newError(KindAuthRejected, m.Kind.String()+" proof mismatch")
	}
	return nil
}

// verifyFreshness rejects timestamps older or further in the future than the
// window. Replay of a captured record is bounded by this check even though
// no per-session nonce store is kept.
func (m *handshakeMessage) verifyFreshness(now time.Time, window time.Duration) error {
	delta := now.Unix() - m.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(window.Seconds()) {
		return newError(KindAuthRejected, m.Kind.String()+" timestamp outside freshness window")
	}
	return nil
}
