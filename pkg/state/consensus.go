package state

// Result is a consensus mechanism's verdict on a pending action.
type Result string

const (
	ResultAccept  Result = "accept"
	ResultReject  Result = "reject"
	ResultPending Result = "pending"
)

// Consensus decides the fate of a pending action given the votes cast on
// it so far and read access to the current state (e.g. to resolve
// delegation chains or entity weights).
type Consensus interface {
	Decide(s *State, action Action, votes []Vote) (Result, error)
}

// LiquidDemocracy is the built-in default mechanism: every entity either
// votes directly or delegates its vote to another entity, transitively,
// and a simple majority of resolved votes decides. It is used whenever
// consensus/mechanism names no code, and also serves as the reference
// implementation a sandboxed mechanism can fall back to by storing the
// builtinLiquidDemocracy sentinel as its code body.
type LiquidDemocracy struct{}

const builtinLiquidDemocracySentinel = "builtin:liquid_democracy"

func (LiquidDemocracy) Decide(s *State, action Action, votes []Vote) (Result, error) {
	direct := make(map[string]VoteValue, len(votes))
	for _, v := range votes {
		direct[v.Voter] = v.Value
	}

	var accept, reject int
	for _, entity := range s.Children([]string{"entities"}) {
		val, ok := resolveVote(s, entity, direct, map[string]bool{})
		if !ok {
			continue
		}
		switch val {
		case VoteAccept:
			accept++
		case VoteReject:
			reject++
		}
	}

	switch {
	case accept > reject:
		return ResultAccept, nil
	case reject >= accept && reject > 0:
		return ResultReject, nil
	default:
		return ResultPending, nil
	}
}

// resolveVote follows entity's delegation chain (entities/<name>/delegate)
// until it finds a direct vote or runs out of chain. visited guards
// against delegation cycles, which resolve to "no vote" rather than an
// infinite loop.
func resolveVote(s *State, entity string, direct map[string]VoteValue, visited map[string]bool) (VoteValue, bool) {
	if visited[entity] {
		return "", false
	}
	visited[entity] = true

	if v, ok := direct[entity]; ok {
		return v, true
	}
	delegateBytes, ok := s.Get([]string{"entities", entity, "delegate"})
	if !ok || len(delegateBytes) == 0 {
		return "", false
	}
	return resolveVote(s, string(delegateBytes), direct, visited)
}
