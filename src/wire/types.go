package wire

// Transaction types, as found in operation.type.
const (
	NODE                     = "0"
	NYM                      = "1"
	GET_TXN                  = "3"
	TXN_AUTHOR_AGREEMENT     = "4"
	TXN_AUTHOR_AGREEMENT_AML = "5"
	GET_TXN_AUTHOR_AGREEMENT = "6"
	GET_TAA_AML              = "7"
	ATTRIB                   = "100"
	SCHEMA                   = "101"
	CRED_DEF                 = "102"
	GET_ATTR                 = "104"
	GET_NYM                  = "105"
	GET_SCHEMA               = "107"
	GET_CRED_DEF             = "108"
	POOL_UPGRADE             = "109"
	NODE_UPGRADE             = "110"
	POOL_CONFIG              = "111"
	REVOC_REG_DEF            = "113"
	REVOC_REG_ENTRY          = "114"
	GET_REVOC_REG_DEF        = "115"
	GET_REVOC_REG            = "116"
	GET_REVOC_REG_DELTA      = "117"
	POOL_RESTART             = "118"
	GET_VALIDATOR_INFO       = "119"
	AUTH_RULE                = "120"
	GET_AUTH_RULE            = "121"
)

// Ledger ids.
const (
	PoolLedger   = 0
	DomainLedger = 1
	ConfigLedger = 2
	AuditLedger  = 3
)

// Message ops.
const (
	OpReply            = "REPLY"
	OpReqAck           = "REQACK"
	OpReqNack          = "REQNACK"
	OpReject           = "REJECT"
	OpLedgerStatus     = "LEDGER_STATUS"
	OpConsistencyProof = "CONSISTENCY_PROOF"
	OpCatchupReq       = "CATCHUP_REQ"
	OpCatchupRep       = "CATCHUP_REP"
)

// Node services.
const (
	ServiceValidator = "VALIDATOR"
)

// DefaultProtocolVersion is stamped on requests built by this package.
const DefaultProtocolVersion = 2

// Ping frames exchanged on idle node connections.
const (
	Ping = "pi"
	Pong = "po"
)

// LedgerOf returns the ledger a transaction type is written to. GET_TXN
// names its ledger in the operation; def is returned for it and for every
// domain type.
func LedgerOf(txnType string, def int) int {
	switch txnType {
	case NODE:
		return PoolLedger
	case TXN_AUTHOR_AGREEMENT, TXN_AUTHOR_AGREEMENT_AML, GET_TXN_AUTHOR_AGREEMENT, GET_TAA_AML,
		POOL_CONFIG, POOL_UPGRADE, NODE_UPGRADE, AUTH_RULE, GET_AUTH_RULE:
		return ConfigLedger
	case GET_TXN:
		return def
	default:
		return DomainLedger
	}
}
