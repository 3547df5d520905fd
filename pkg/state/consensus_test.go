package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newEntityState(t *testing.T, entities []string) *State {
	t.Helper()
	s := New()
	for _, e := range entities {
		s.Set([]string{"entities", e, "public_key"}, []byte(e))
	}
	return s
}

func TestLiquidDemocracyMajorityAccept(t *testing.T) {
	s := newEntityState(t, []string{"alice", "bob", "carol"})
	votes := []Vote{
		{Voter: "alice", Value: VoteAccept},
		{Voter: "bob", Value: VoteAccept},
		{Voter: "carol", Value: VoteReject},
	}
	res, err := LiquidDemocracy{}.Decide(s, Action{}, votes)
	require.NoError(t, err)
	require.Equal(t, ResultAccept, res)
}

func TestLiquidDemocracyTieGoesToReject(t *testing.T) {
	s := newEntityState(t, []string{"alice", "bob"})
	votes := []Vote{
		{Voter: "alice", Value: VoteAccept},
		{Voter: "bob", Value: VoteReject},
	}
	res, err := LiquidDemocracy{}.Decide(s, Action{}, votes)
	require.NoError(t, err)
	require.Equal(t, ResultReject, res)
}

func TestLiquidDemocracyNoVotesIsPending(t *testing.T) {
	s := newEntityState(t, []string{"alice", "bob"})
	res, err := LiquidDemocracy{}.Decide(s, Action{}, nil)
	require.NoError(t, err)
	require.Equal(t, ResultPending, res)
}

func TestLiquidDemocracyDelegation(t *testing.T) {
	s := newEntityState(t, []string{"alice", "bob", "carol"})
	s.Set([]string{"entities", "bob", "delegate"}, []byte("alice"))
	votes := []Vote{
		{Voter: "alice", Value: VoteAccept},
		{Voter: "carol", Value: VoteReject},
	}
	res, err := LiquidDemocracy{}.Decide(s, Action{}, votes)
	require.NoError(t, err)
	require.Equal(t, ResultAccept, res)
}

func TestLiquidDemocracyDelegationCycleIsIgnored(t *testing.T) {
	s := newEntityState(t, []string{"alice", "bob"})
	s.Set([]string{"entities", "alice", "delegate"}, []byte("bob"))
	s.Set([]string{"entities", "bob", "delegate"}, []byte("alice"))

	res, err := LiquidDemocracy{}.Decide(s, Action{}, nil)
	require.NoError(t, err)
	require.Equal(t, ResultPending, res)
}
