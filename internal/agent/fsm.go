package agent

import "fmt"

// node is a state of the turn graph.
type node int

const (
	nodeEntry node = iota
	nodeTools
	nodeVerify
	nodeDone
)

func (n node) String() string {
	switch n {
	case nodeEntry:
		return "entry"
	case nodeTools:
		return "tools"
	case nodeVerify:
		return "verify"
	case nodeDone:
		return "done"
	}
	return fmt.Sprintf("node(%d)", int(n))
}

// event is the outcome of running a node.
type event int

const (
	evSafetyFlagged event = iota
	evToolRequested
	evPlainReply
	evToolsDone
	evVerificationOK
	evVerificationMissing
	evIterationLimit
)

func (e event) String() string {
	switch e {
	case evSafetyFlagged:
		return "safety-flagged"
	case evToolRequested:
		return "tool-requested"
	case evPlainReply:
		return "plain-reply"
	case evToolsDone:
		return "tools-done"
	case evVerificationOK:
		return "verification-ok"
	case evVerificationMissing:
		return "verification-missing"
	case evIterationLimit:
		return "iteration-limit"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type edge struct {
	from node
	on   event
}

// transitions is the complete edge set of the graph. Anything not listed
// is a programming error.
var transitions = map[edge]node{
	{nodeEntry, evSafetyFlagged}:        nodeDone,
	{nodeEntry, evToolRequested}:        nodeTools,
	{nodeEntry, evPlainReply}:           nodeVerify,
	{nodeEntry, evIterationLimit}:       nodeDone,
	{nodeTools, evToolsDone}:            nodeEntry,
	{nodeVerify, evVerificationOK}:      nodeDone,
	{nodeVerify, evVerificationMissing}: nodeDone,
}

func transition(from node, on event) (node, error) {
	to, ok := transitions[edge{from, on}]
	if !ok {
		return nodeDone, fmt.Errorf("no transition from %s on %s", from, on)
	}
	return to, nil
}
