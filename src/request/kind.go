package request

import "github.com/mosaicnetworks/indypool/src/wire"

// Kind selects the dispatch and consensus policy of a request.
type Kind int

const (
	// StateProofRead is answered by a single node and verified.
	StateProofRead Kind = iota
	// QuorumRead needs f+1 identical results.
	QuorumRead
	// Write needs f+1 replies with the same seqNo and txnTime.
	Write
	// Action gathers the reply of every node.
	Action
	// LedgerStatus discovers the target of a catch-up.
	LedgerStatus
	// CatchupRange fetches a range of ledger transactions.
	CatchupRange
)

func (k Kind) String() string {
	switch k {
	case StateProofRead:
		return "StateProofRead"
	case QuorumRead:
		return "QuorumRead"
	case Write:
		return "Write"
	case Action:
		return "Action"
	case LedgerStatus:
		return "LedgerStatus"
	case CatchupRange:
		return "CatchupRange"
	default:
		return "Unknown"
	}
}

var (
	stateProofTypes = map[string]bool{
		wire.GET_NYM:             true,
		wire.GET_ATTR:            true,
		wire.GET_SCHEMA:          true,
		wire.GET_CRED_DEF:        true,
		wire.GET_REVOC_REG_DEF:   true,
		wire.GET_REVOC_REG:       true,
		wire.GET_REVOC_REG_DELTA: true,
		wire.GET_TXN:             true,
	}
	writeTypes = map[string]bool{
		wire.NODE:                     true,
		wire.NYM:                      true,
		wire.TXN_AUTHOR_AGREEMENT:     true,
		wire.TXN_AUTHOR_AGREEMENT_AML: true,
		wire.ATTRIB:                   true,
		wire.SCHEMA:                   true,
		wire.CRED_DEF:                 true,
		wire.POOL_UPGRADE:             true,
		wire.POOL_CONFIG:              true,
		wire.REVOC_REG_DEF:            true,
		wire.REVOC_REG_ENTRY:          true,
		wire.AUTH_RULE:                true,
	}
	actionTypes = map[string]bool{
		wire.POOL_RESTART:       true,
		wire.GET_VALIDATOR_INFO: true,
	}
)

// KindOf returns the kind of a transaction type. Types it does not know are
// read with f+1 matching replies.
func KindOf(txnType string) Kind {
	switch {
	case stateProofTypes[txnType]:
		return StateProofRead
	case writeTypes[txnType]:
		return Write
	case actionTypes[txnType]:
		return Action
	default:
		return QuorumRead
	}
}

// State is the progress of a request.
type State int

const (
	// Issued requests have been dispatched and have no evidence yet.
	Issued State = iota
	// Gathering requests have some replies but no terminal condition.
	Gathering
	// CatchupRequired requests wait for a ledger catch-up.
	CatchupRequired
	// Finished requests have delivered their result.
	Finished
)

func (s State) String() string {
	switch s {
	case Issued:
		return "Issued"
	case Gathering:
		return "Gathering"
	case CatchupRequired:
		return "CatchupRequired"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}
