package state

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActionSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a := Action{
		Author:     "alice",
		Transition: Transition{Code: HashBytes([]byte("code")), Input: []byte("input")},
		Timestamp:  1,
	}
	require.NoError(t, a.Sign(priv))
	require.True(t, a.Verify(pub))

	other, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.False(t, a.Verify(other))
}

func TestActionIDDerivedFromContent(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a1 := Action{Author: "alice", Transition: Transition{Code: HashBytes([]byte("c")), Input: []byte("i")}, Timestamp: 1}
	a2 := Action{Author: "alice", Transition: Transition{Code: HashBytes([]byte("c")), Input: []byte("i")}, Timestamp: 1}

	require.NoError(t, a1.Sign(priv))
	require.NoError(t, a2.Sign(priv))
	require.Equal(t, a1.ID, a2.ID)

	a3 := a1
	a3.Timestamp = 2
	require.NoError(t, a3.Sign(priv))
	require.NotEqual(t, a1.ID, a3.ID)
}

func TestVoteSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	v := Vote{Action: HashBytes([]byte("action")), Voter: "bob", Value: VoteAccept, Timestamp: 1}
	require.NoError(t, v.Sign(priv))
	require.True(t, v.Verify(pub))

	v.Value = VoteReject
	require.False(t, v.Verify(pub))
}
