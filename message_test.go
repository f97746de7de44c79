package sfifo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncodeDecode(t *testing.T) {
	key, err := deriveAuthKey("encode-token")
	require.NoError(t, err)

	msg := newMessage(kindRequest)
	msg.Proof = computeProof(key, labelClient, msg.Timestamp)

	rec, err := msg.encode()
	require.NoError(t, err)
	require.Len(t, rec, recordSize)

	got, err := decodeMessage(rec)
	require.NoError(t, err)
	assert.Equal(t, msg.Kind, got.Kind)
	assert.Equal(t, msg.Pid, got.Pid)
	assert.Equal(t, msg.Name, got.Name)
	assert.Equal(t, msg.Timestamp, got.Timestamp)
	assert.Equal(t, msg.Proof, got.Proof)
}

func TestDecodeMalformed(t *testing.T) {
	t.Run("Truncated", func(t *testing.T) {
		_, err := decodeMessage(make([]byte, recordSize-1))
		assert.True(t, IsKind(err, KindMalformedMessage))
	})

	t.Run("UnknownKind", func(t *testing.T) {
		rec := make([]byte, recordSize)
		rec[0] = 0xFF
		_, err := decodeMessage(rec)
		assert.True(t, IsKind(err, KindMalformedMessage))
	})

	t.Run("NameLengthOverflow", func(t *testing.T) {
		rec := make([]byte, recordSize)
		rec[0] = byte(kindRequest)
		rec[5] = nameField + 1
		_, err := decodeMessage(rec)
		assert.True(t, IsKind(err, KindMalformedMessage))
	})
}

func TestProofVerification(t *testing.T) {
	key, err := deriveAuthKey("proof-token")
	require.NoError(t, err)
	otherKey, err := deriveAuthKey("other-token")
	require.NoError(t, err)

	ts := time.Now().Unix()
	msg := newMessage(kindResponse)
	msg.Timestamp = ts
	msg.Proof = computeProof(key, labelServer, ts, ts-1)

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, msg.verifyProof(key, labelServer, ts, ts-1))
	})

	t.Run("WrongToken", func(t *testing.T) {
		err := msg.verifyProof(otherKey, labelServer, ts, ts-1)
		assert.True(t, IsKind(err, KindAuthRejected))
	})

	t.Run("WrongLabel", func(t *testing.T) {
		err := msg.verifyProof(key, labelClient, ts, ts-1)
		assert.True(t, IsKind(err, KindAuthRejected))
	})

	t.Run("EchoMismatch", func(t *testing.T) {
		err := msg.verifyProof(key, labelServer, ts, ts-2)
		assert.True(t, IsKind(err, KindAuthRejected))
	})
}

func TestFreshnessWindow(t *testing.T) {
	now := time.Now()
	window := 30 * time.Second

	cases := []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"Current", 0, true},
		{"WithinPast", -29 * time.Second, true},
		{"WithinFuture", 29 * time.Second, true},
		{"StalePast", -31 * time.Second, false},
		{"FarFuture", 31 * time.Second, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := newMessage(kindRequest)
			msg.Timestamp = now.Add(tc.offset).Unix()
			err := msg.verifyFreshness(now, window)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsKind(err, KindAuthRejected))
			}
		})
	}
}

func TestDeriveAuthKeyDeterministic(t *testing.T) {
	a, err := deriveAuthKey("same-token")
	require.NoError(t, err)
	b, err := deriveAuthKey("same-token")
	require.NoError(t, err)
	c, err := deriveAuthKey("different-token")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, authKeySize)
}
