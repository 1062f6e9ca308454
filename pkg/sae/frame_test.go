package sae

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitFrameRoundtrip(t *testing.T) {
	a, _ := newTestPair(t, "password", "password")
	commit := commitOf(t, call(a.Initiate)[0])
	g := a.Group()

	body := EncodeCommitFrame(g, commit)
	require.Len(t, body, 6+2+g.ScalarSize()+g.ElementSize())
	assert.Equal(t, []byte{0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x13, 0x00}, body[:8])

	f, err := DecodeFrame(g, body)
	require.NoError(t, err)
	assert.Equal(t, SeqCommit, f.Sequence)
	assert.Equal(t, StatusSuccess, f.Status)
	assert.Equal(t, GroupP256, f.GroupID)
	require.NotNil(t, f.Commit)
	assert.True(t, commit.Equal(f.Commit))
	assert.Nil(t, f.Confirm)
}

func TestConfirmFrameRoundtrip(t *testing.T) {
	msg := &ConfirmMsg{SendConfirm: 0x0102, Confirm: make([]byte, confirmTagSize)}
	for i := range msg.Confirm {
		msg.Confirm[i] = byte(i)
	}

	body := EncodeConfirmFrame(msg)
	assert.Equal(t, []byte{0x03, 0x00, 0x02, 0x00, 0x00, 0x00, 0x02, 0x01}, body[:8])

	g, err := GroupByID(GroupP256)
	require.NoError(t, err)
	f, err := DecodeFrame(g, body)
	require.NoError(t, err)
	assert.Equal(t, SeqConfirm, f.Sequence)
	require.NotNil(t, f.Confirm)
	assert.True(t, msg.Equal(f.Confirm))
	assert.Nil(t, f.Commit)
}

func TestDecodeCommitInvalidElement(t *testing.T) {
	a, _ := newTestPair(t, "password", "password")
	g := a.Group()
	body := EncodeCommitFrame(g, commitOf(t, call(a.Initiate)[0]))

	// Zero the element: the identity has no valid encoding.
	clear(body[8+g.ScalarSize():])
	f, err := DecodeFrame(g, body)
	require.NoError(t, err)
	require.NotNil(t, f.Commit)
	assert.Nil(t, f.Commit.Element)

	// The handshake rejects it like any other invalid first commit.
	fresh, _ := newTestPair(t, "password", "password")
	out := call(func(s *UpdateSink) { fresh.HandleCommit(s, f.Commit) })
	require.Len(t, out, 1)
	assert.Equal(t, RejectAuthFailed, out[0].(Reject).Reason)
}

func TestDecodeFrameErrors(t *testing.T) {
	g, err := GroupByID(GroupP256)
	require.NoError(t, err)

	header := func(alg, seq, status uint16) []byte {
		b := binary.LittleEndian.AppendUint16(nil, alg)
		b = binary.LittleEndian.AppendUint16(b, seq)
		return binary.LittleEndian.AppendUint16(b, status)
	}

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"empty", nil, ErrFrameTooShort},
		{"truncated header", []byte{0x03, 0x00, 0x01}, ErrFrameTooShort},
		{"open system", header(0, SeqCommit, 0), ErrUnexpectedAlgorithm},
		{"unknown sequence", header(AuthAlgorithmSAE, 3, 0), ErrUnexpectedSequence},
		{"commit without group", header(AuthAlgorithmSAE, SeqCommit, 0), ErrFrameTooShort},
		{"foreign group", binary.LittleEndian.AppendUint16(header(AuthAlgorithmSAE, SeqCommit, 0), GroupP384), ErrGroupMismatch},
		{"short commit", append(binary.LittleEndian.AppendUint16(header(AuthAlgorithmSAE, SeqCommit, 0), GroupP256), make([]byte, 95)...), ErrFrameLength},
		{"short confirm", append(header(AuthAlgorithmSAE, SeqConfirm, 0), make([]byte, 33)...), ErrFrameLength},
		{"long confirm", append(header(AuthAlgorithmSAE, SeqConfirm, 0), make([]byte, 35)...), ErrFrameLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(g, tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeFrameStatus(t *testing.T) {
	g, err := GroupByID(GroupP256)
	require.NoError(t, err)

	// Unsupported group status (77) carries only the group it refers to.
	body := []byte{0x03, 0x00, 0x01, 0x00, 0x4d, 0x00, 0x15, 0x00}
	f, err := DecodeFrame(g, body)
	require.NoError(t, err)
	assert.Equal(t, uint16(77), f.Status)
	assert.Equal(t, GroupP521, f.GroupID)
	assert.Nil(t, f.Commit)
}
