// Package state implements the content-addressed state engine: a
// hierarchical trie of signed, consensus-gated transitions. Unlike the
// plugin registry, the engine assumes a single-threaded caller - the
// state diagram in its design notes has no concurrent-submit case, so
// callers are expected to serialize Submit/Vote calls themselves.
package state

import (
	"crypto/ed25519"
	"log/slog"

	"github.com/fxamacker/cbor/v2"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/sandbox"
)

// Engine owns the state trie and the set of actions awaiting consensus.
type Engine struct {
	state     *State
	pending   map[Hash]*pendingAction
	runtime   *sandbox.Runtime
	consensus Consensus
	log       *slog.Logger
}

type pendingAction struct {
	action Action
	votes  []Vote
}

// NewEngine builds an Engine over a fresh, empty state trie. runtime may
// be nil if no action ever names sandboxed consensus or transition code;
// any attempt to run one then fails with ErrNotFound.
func NewEngine(runtime *sandbox.Runtime, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		state:     New(),
		pending:   map[Hash]*pendingAction{},
		runtime:   runtime,
		consensus: LiquidDemocracy{},
		log:       log.With("component", "state"),
	}
}

// State returns the engine's live trie. Callers may read it freely;
// mutating it directly bypasses the action/vote/consensus pipeline and
// should only be done to seed initial entities and code blobs.
func (e *Engine) State() *State {
	return e.state
}

// PublishCode stores code under code/<hash(code)>, returning the hash a
// Transition or consensus/mechanism can reference. Used to seed built-in
// mechanisms and to publish sandboxed transition bytecode.
func (e *Engine) PublishCode(code []byte) Hash {
	h := HashBytes(code)
	e.state.Set([]string{"code", h.String()}, code)
	return h
}

// RegisterEntity seeds an entity's public key (and, optionally, a
// delegate) so its actions and votes can be verified.
func (e *Engine) RegisterEntity(name string, pub ed25519.PublicKey, delegate string) {
	e.state.Set([]string{"entities", name, "public_key"}, pub)
	if delegate != "" {
		e.state.Set([]string{"entities", name, "delegate"}, []byte(delegate))
	}
}

// SetMechanism records the consensus mechanism's code hash at
// consensus/mechanism. Omitting this leaves the built-in LiquidDemocracy
// in force.
func (e *Engine) SetMechanism(codeHash Hash) {
	e.state.Set([]string{"consensus", "mechanism"}, []byte(codeHash.String()))
}

// Submit verifies action's signature against its author's registered
// public key and its transition code's existence, then adds it to the
// pending set. Resubmitting an action already pending or already applied
// is a no-op: Action.ID is content-derived, so identical actions collide
// by construction.
func (e *Engine) Submit(action Action) (Hash, error) {
	id, err := action.ComputeID()
	if err != nil {
		return Hash{}, err
	}
	action.ID = id

	if _, found := e.state.Get([]string{"history", id.String()}); found {
		return id, nil
	}
	if _, found := e.pending[id]; found {
		return id, nil
	}

	pub, ok := e.state.Get([]string{"entities", action.Author, "public_key"})
	if !ok {
		return Hash{}, errx.With(ErrNotFound, ": author %q has no registered public key", action.Author)
	}
	if !action.Verify(ed25519.PublicKey(pub)) {
		return Hash{}, errx.With(ErrSignatureInvalid, ": action %s", id)
	}
	if _, ok := e.state.Get([]string{"code", action.Transition.Code.String()}); !ok {
		return Hash{}, errx.With(ErrNotFound, ": transition code %s", action.Transition.Code)
	}

	e.pending[id] = &pendingAction{action: action}
	return id, nil
}

// Vote verifies vote's signature against its voter's registered public
// key, records it against the pending action it names, and re-evaluates
// consensus. It returns ErrAlreadyVoted if voter already voted on this
// action, and ErrRejected if this vote tips the action into rejection.
func (e *Engine) Vote(vote Vote) error {
	pub, ok := e.state.Get([]string{"entities", vote.Voter, "public_key"})
	if !ok {
		return errx.With(ErrNotFound, ": voter %q has no registered public key", vote.Voter)
	}
	if !vote.Verify(ed25519.PublicKey(pub)) {
		return errx.With(ErrSignatureInvalid, ": vote by %s on %s", vote.Voter, vote.Action)
	}

	pa, ok := e.pending[vote.Action]
	if !ok {
		return errx.With(ErrNotFound, ": action %s", vote.Action)
	}
	for _, v := range pa.votes {
		if v.Voter == vote.Voter {
			return errx.With(ErrAlreadyVoted, ": voter %s on action %s", vote.Voter, vote.Action)
		}
	}
	pa.votes = append(pa.votes, vote)

	return e.evaluateConsensus(pa)
}

func (e *Engine) evaluateConsensus(pa *pendingAction) error {
	result, err := e.runConsensus(pa.action, pa.votes)
	if err != nil {
		e.log.Warn("consensus evaluation failed, leaving action pending", "action", pa.action.ID, "error", err)
		return nil
	}

	switch result {
	case ResultAccept:
		delete(e.pending, pa.action.ID)
		return e.applyTransition(pa.action)
	case ResultReject:
		delete(e.pending, pa.action.ID)
		return errx.With(ErrRejected, ": action %s", pa.action.ID)
	default:
		return nil
	}
}

func (e *Engine) runConsensus(action Action, votes []Vote) (Result, error) {
	mechHashBytes, ok := e.state.Get([]string{"consensus", "mechanism"})
	if !ok {
		return e.consensus.Decide(e.state, action, votes)
	}

	mechHash, err := ParseHash(string(mechHashBytes))
	if err != nil {
		return ResultPending, errx.Wrap(ErrInvalidFormat, err)
	}
	code, ok := e.state.Get([]string{"code", mechHash.String()})
	if !ok {
		return ResultPending, errx.With(ErrNotFound, ": consensus mechanism code %s", mechHash)
	}
	if string(code) == builtinLiquidDemocracySentinel {
		return e.consensus.Decide(e.state, action, votes)
	}

	if e.runtime == nil {
		return ResultPending, errx.With(ErrNotFound, ": no sandbox runtime to execute consensus code %s", mechHash)
	}

	input, err := cbor.Marshal(consensusInput{
		ActionID: action.ID[:],
		Author:   action.Author,
		Votes:    encodeVotes(votes),
		Entities: e.state.Dump([]string{"entities"}),
	})
	if err != nil {
		return ResultPending, err
	}
	out, err := e.runtime.RunModule(code, "consensus", input)
	if err != nil {
		return ResultPending, err
	}
	muts, err := decodeMutations(out)
	if err != nil {
		return ResultPending, err
	}
	for _, m := range muts {
		if len(m.Path) == 1 && m.Path[0] == "_result" {
			switch string(m.Value) {
			case string(ResultAccept):
				return ResultAccept, nil
			case string(ResultReject):
				return ResultReject, nil
			}
		}
	}
	return ResultPending, nil
}

// applyTransition runs action's transition code over a full state
// snapshot, applies the mutations it returns (ignoring any "_result"
// marker, which only means something to consensus code), and writes the
// action to history/<id>.
func (e *Engine) applyTransition(action Action) error {
	code, ok := e.state.Get([]string{"code", action.Transition.Code.String()})
	if !ok {
		return errx.With(ErrNotFound, ": transition code %s", action.Transition.Code)
	}
	if e.runtime == nil {
		return errx.With(ErrNotFound, ": no sandbox runtime to execute transition code %s", action.Transition.Code)
	}

	input, err := cbor.Marshal(transitionInput{
		Input: action.Transition.Input,
		State: e.state.Dump(nil),
	})
	if err != nil {
		return err
	}
	out, err := e.runtime.RunModule(code, "transition", input)
	if err != nil {
		return err
	}
	muts, err := decodeMutations(out)
	if err != nil {
		return err
	}
	for _, m := range muts {
		if len(m.Path) == 1 && m.Path[0] == "_result" {
			continue
		}
		if m.Delete {
			e.state.Delete(m.Path)
		} else {
			e.state.Set(m.Path, m.Value)
		}
	}

	hb, err := action.historyBytes()
	if err != nil {
		return err
	}
	e.state.Set([]string{"history", action.ID.String()}, hb)
	return nil
}

// consensusInput and transitionInput are the CBOR envelopes handed to
// sandboxed code. Sandboxed modules have no host imports (see
// sandbox.Runtime.RunModule), so unlike plugins they receive their whole
// read-only view of state as part of the call rather than through a
// capability-gated host service.
type consensusInput struct {
	ActionID []byte      `cbor:"action_id"`
	Author   string      `cbor:"author"`
	Votes    []wireVoteView `cbor:"votes"`
	Entities []leaf      `cbor:"entities"`
}

type wireVoteView struct {
	Voter string `cbor:"voter"`
	Value string `cbor:"value"`
}

func encodeVotes(votes []Vote) []wireVoteView {
	out := make([]wireVoteView, len(votes))
	for i, v := range votes {
		out[i] = wireVoteView{Voter: v.Voter, Value: string(v.Value)}
	}
	return out
}

type transitionInput struct {
	Input []byte `cbor:"input"`
	State []leaf `cbor:"state"`
}

func decodeMutations(b []byte) ([]Mutation, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var muts []Mutation
	if err := cbor.Unmarshal(b, &muts); err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	return muts, nil
}

// History returns the applied action recorded at history/<id>, if any.
func (e *Engine) History(id Hash) (Action, bool) {
	b, ok := e.state.Get([]string{"history", id.String()})
	if !ok {
		return Action{}, false
	}
	a, err := decodeHistoryAction(b)
	if err != nil {
		return Action{}, false
	}
	return a, true
}

// Pending reports whether id is still awaiting consensus.
func (e *Engine) Pending(id Hash) bool {
	_, ok := e.pending[id]
	return ok
}
