package state

import (
	"crypto/ed25519"

	"github.com/fxamacker/cbor/v2"

	"github.com/witmproxy/witmproxy/internal/errx"
)

// Transition names the code an Action wants applied, plus that code's
// own input bytes.
type Transition struct {
	Code  Hash
	Input []byte
}

// Action is a signed proposal to run a Transition. Its ID is the hash of
// its own signable encoding, so two actions with identical content
// collide deliberately: resubmission is idempotent, not a new action.
type Action struct {
	ID        Hash
	Author    string
	Parents   []Hash
	Transition Transition
	Timestamp uint64
	Signature []byte
}

type wireAction struct {
	Author    string   `cbor:"author"`
	Parents   [][]byte `cbor:"parents"`
	Code      []byte   `cbor:"code"`
	Input     []byte   `cbor:"input"`
	Timestamp uint64   `cbor:"timestamp"`
}

func (a *Action) signableBytes() ([]byte, error) {
	w := wireAction{
		Author:    a.Author,
		Parents:   hashesToBytes(a.Parents),
		Code:      a.Transition.Code[:],
		Input:     a.Transition.Input,
		Timestamp: a.Timestamp,
	}
	return cbor.Marshal(w)
}

// ComputeID derives the action's content address from its signable
// encoding, independent of whatever Signature currently holds.
func (a *Action) ComputeID() (Hash, error) {
	b, err := a.signableBytes()
	if err != nil {
		return Hash{}, err
	}
	return HashBytes(b), nil
}

// Sign computes the action's ID and signature under priv, mutating both
// fields in place.
func (a *Action) Sign(priv ed25519.PrivateKey) error {
	b, err := a.signableBytes()
	if err != nil {
		return err
	}
	a.ID = HashBytes(b)
	a.Signature = ed25519.Sign(priv, b)
	return nil
}

// Verify reports whether Signature is a valid ed25519 signature over the
// action's signable encoding under pub.
func (a *Action) Verify(pub ed25519.PublicKey) bool {
	b, err := a.signableBytes()
	if err != nil {
		return false
	}
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, b, a.Signature)
}

type wireFullAction struct {
	ID        []byte   `cbor:"id"`
	Author    string   `cbor:"author"`
	Parents   [][]byte `cbor:"parents"`
	Code      []byte   `cbor:"code"`
	Input     []byte   `cbor:"input"`
	Timestamp uint64   `cbor:"timestamp"`
	Signature []byte   `cbor:"signature"`
}

// historyBytes is the record written at history/<id> once an action's
// transition has been applied, preserving the full action (including its
// signature) rather than just its effects.
func (a *Action) historyBytes() ([]byte, error) {
	w := wireFullAction{
		ID:        a.ID[:],
		Author:    a.Author,
		Parents:   hashesToBytes(a.Parents),
		Code:      a.Transition.Code[:],
		Input:     a.Transition.Input,
		Timestamp: a.Timestamp,
		Signature: a.Signature,
	}
	return cbor.Marshal(w)
}

func decodeHistoryAction(b []byte) (Action, error) {
	var w wireFullAction
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Action{}, errx.Wrap(ErrInvalidFormat, err)
	}
	parents := make([]Hash, len(w.Parents))
	for i, p := range w.Parents {
		parents[i] = bytesToHash(p)
	}
	return Action{
		ID:        bytesToHash(w.ID),
		Author:    w.Author,
		Parents:   parents,
		Transition: Transition{Code: bytesToHash(w.Code), Input: w.Input},
		Timestamp: w.Timestamp,
		Signature: w.Signature,
	}, nil
}
