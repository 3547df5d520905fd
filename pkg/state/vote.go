package state

import (
	"crypto/ed25519"

	"github.com/fxamacker/cbor/v2"
)

// VoteValue is an entity's decision on a pending action.
type VoteValue string

const (
	VoteAccept VoteValue = "accept"
	VoteReject VoteValue = "reject"
)

// Vote is a signed decision by Voter on the action identified by Action.
type Vote struct {
	Action    Hash
	Voter     string
	Value     VoteValue
	Timestamp uint64
	Signature []byte
}

type wireVote struct {
	Action    []byte `cbor:"action"`
	Voter     string `cbor:"voter"`
	Value     string `cbor:"value"`
	Timestamp uint64 `cbor:"timestamp"`
}

func (v *Vote) signableBytes() ([]byte, error) {
	w := wireVote{
		Action:    v.Action[:],
		Voter:     v.Voter,
		Value:     string(v.Value),
		Timestamp: v.Timestamp,
	}
	return cbor.Marshal(w)
}

func (v *Vote) Sign(priv ed25519.PrivateKey) error {
	b, err := v.signableBytes()
	if err != nil {
		return err
	}
	v.Signature = ed25519.Sign(priv, b)
	return nil
}

func (v *Vote) Verify(pub ed25519.PublicKey) bool {
	b, err := v.signableBytes()
	if err != nil {
		return false
	}
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, b, v.Signature)
}
