package errors

// ERR is an error code. Every code belongs to exactly one Kind.
type ERR int32

const (
	ERR_UNKNOWN ERR = iota

	// Malformed
	ERR_TX_MALFORMED
	ERR_BLOCK_MALFORMED
	ERR_BAD_MERKLE_ROOT
	ERR_BAD_COINBASE
	ERR_INVALID_ARGUMENT

	// StateConflict
	ERR_TX_ALREADY_EXISTS
	ERR_TX_MISSING_INPUTS
	ERR_TX_DOUBLE_SPEND
	ERR_TX_INVALID
	ERR_RBF_REJECTED
	ERR_BLOCK_EXISTS
	ERR_TX_ORPHAN

	// ResourceExhausted
	ERR_MEMPOOL_FULL
	ERR_REORGANIZATION_TOO_DEEP

	// ConsensusViolation
	ERR_BAD_HEADER
	ERR_BAD_TARGET
	ERR_BAD_SEAL
	ERR_BAD_TIMESTAMP
	ERR_ORPHAN_BLOCK
	ERR_BLOCK_INVALID

	// TimeoutOrQuorumFailure
	ERR_TRANSFER_TIMEOUT
	ERR_QUORUM_NOT_REACHED

	// operational
	ERR_NOT_FOUND
	ERR_STORAGE
	ERR_INVALID_TRANSITION
	ERR_CONFIGURATION
)

var errNames = map[ERR]string{
	ERR_UNKNOWN:                 "UNKNOWN",
	ERR_TX_MALFORMED:            "TX_MALFORMED",
	ERR_BLOCK_MALFORMED:         "BLOCK_MALFORMED",
	ERR_BAD_MERKLE_ROOT:         "BAD_MERKLE_ROOT",
	ERR_BAD_COINBASE:            "BAD_COINBASE",
	ERR_INVALID_ARGUMENT:        "INVALID_ARGUMENT",
	ERR_TX_ALREADY_EXISTS:       "TX_ALREADY_EXISTS",
	ERR_TX_MISSING_INPUTS:       "TX_MISSING_INPUTS",
	ERR_TX_DOUBLE_SPEND:         "TX_DOUBLE_SPEND",
	ERR_TX_INVALID:              "TX_INVALID",
	ERR_RBF_REJECTED:            "RBF_REJECTED",
	ERR_BLOCK_EXISTS:            "BLOCK_EXISTS",
	ERR_TX_ORPHAN:               "TX_ORPHAN",
	ERR_MEMPOOL_FULL:            "MEMPOOL_FULL",
	ERR_REORGANIZATION_TOO_DEEP: "REORGANIZATION_TOO_DEEP",
	ERR_BAD_HEADER:              "BAD_HEADER",
	ERR_BAD_TARGET:              "BAD_TARGET",
	ERR_BAD_SEAL:                "BAD_SEAL",
	ERR_BAD_TIMESTAMP:           "BAD_TIMESTAMP",
	ERR_ORPHAN_BLOCK:            "ORPHAN_BLOCK",
	ERR_BLOCK_INVALID:           "BLOCK_INVALID",
	ERR_TRANSFER_TIMEOUT:        "TRANSFER_TIMEOUT",
	ERR_QUORUM_NOT_REACHED:      "QUORUM_NOT_REACHED",
	ERR_NOT_FOUND:               "NOT_FOUND",
	ERR_STORAGE:                 "STORAGE",
	ERR_INVALID_TRANSITION:      "INVALID_TRANSITION",
	ERR_CONFIGURATION:           "CONFIGURATION",
}

func (c ERR) String() string {
	if name, ok := errNames[c]; ok {
		return name
	}

	return "UNKNOWN"
}

// Kind is the error class a caller acts on.
type Kind int

const (
	KindUnknown Kind = iota
	// KindMalformed is never retried, the caller must fix the input.
	KindMalformed
	// KindStateConflict may be retried with different inputs.
	KindStateConflict
	// KindResourceExhausted may be retried after backing off.
	KindResourceExhausted
	// KindConsensusViolation rejects a block; peer scoring is up to the caller.
	KindConsensusViolation
	// KindTimeoutOrQuorumFailure marks a bridge transfer failed; re-initiation is explicit.
	KindTimeoutOrQuorumFailure
	KindNotFound
	KindStorage
	KindInvalidTransition
)

func (k Kind) String() string {
	return [...]string{"Unknown", "Malformed", "StateConflict", "ResourceExhausted", "ConsensusViolation",
		"TimeoutOrQuorumFailure", "NotFound", "Storage", "InvalidTransition"}[k]
}

func (c ERR) Kind() Kind {
	switch c {
	case ERR_TX_MALFORMED, ERR_BLOCK_MALFORMED, ERR_BAD_MERKLE_ROOT, ERR_BAD_COINBASE, ERR_INVALID_ARGUMENT:
		return KindMalformed
	case ERR_TX_ALREADY_EXISTS, ERR_TX_MISSING_INPUTS, ERR_TX_DOUBLE_SPEND, ERR_TX_INVALID, ERR_RBF_REJECTED,
		ERR_BLOCK_EXISTS, ERR_TX_ORPHAN:
		return KindStateConflict
	case ERR_MEMPOOL_FULL, ERR_REORGANIZATION_TOO_DEEP:
		return KindResourceExhausted
	case ERR_BAD_HEADER, ERR_BAD_TARGET, ERR_BAD_SEAL, ERR_BAD_TIMESTAMP, ERR_ORPHAN_BLOCK, ERR_BLOCK_INVALID:
		return KindConsensusViolation
	case ERR_TRANSFER_TIMEOUT, ERR_QUORUM_NOT_REACHED:
		return KindTimeoutOrQuorumFailure
	case ERR_NOT_FOUND:
		return KindNotFound
	case ERR_STORAGE, ERR_CONFIGURATION:
		return KindStorage
	case ERR_INVALID_TRANSITION:
		return KindInvalidTransition
	default:
		return KindUnknown
	}
}

// Sentinels for errors.Is checks. They carry no context; use the constructors to
// build returned errors.
var (
	ErrTxMalformed           = New(ERR_TX_MALFORMED, "transaction malformed")
	ErrBlockMalformed        = New(ERR_BLOCK_MALFORMED, "block malformed")
	ErrBadMerkleRoot         = New(ERR_BAD_MERKLE_ROOT, "merkle root mismatch")
	ErrBadCoinbase           = New(ERR_BAD_COINBASE, "bad coinbase")
	ErrInvalidArgument       = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrTxAlreadyExists       = New(ERR_TX_ALREADY_EXISTS, "transaction already exists")
	ErrTxMissingInputs       = New(ERR_TX_MISSING_INPUTS, "transaction inputs missing")
	ErrTxDoubleSpend         = New(ERR_TX_DOUBLE_SPEND, "double spend")
	ErrTxInvalid             = New(ERR_TX_INVALID, "transaction invalid")
	ErrRBFRejected           = New(ERR_RBF_REJECTED, "replacement rejected")
	ErrBlockExists           = New(ERR_BLOCK_EXISTS, "block already known")
	ErrTxOrphan              = New(ERR_TX_ORPHAN, "transaction parked as orphan")
	ErrMempoolFull           = New(ERR_MEMPOOL_FULL, "mempool full")
	ErrReorganizationTooDeep = New(ERR_REORGANIZATION_TOO_DEEP, "reorganization too deep")
	ErrBadHeader             = New(ERR_BAD_HEADER, "bad header")
	ErrBadTarget             = New(ERR_BAD_TARGET, "bad target")
	ErrBadSeal               = New(ERR_BAD_SEAL, "bad seal")
	ErrBadTimestamp          = New(ERR_BAD_TIMESTAMP, "bad timestamp")
	ErrOrphanBlock           = New(ERR_ORPHAN_BLOCK, "parent unknown")
	ErrBlockInvalid          = New(ERR_BLOCK_INVALID, "block invalid")
	ErrTransferTimeout       = New(ERR_TRANSFER_TIMEOUT, "transfer timed out")
	ErrQuorumNotReached      = New(ERR_QUORUM_NOT_REACHED, "quorum not reached")
	ErrNotFound              = New(ERR_NOT_FOUND, "not found")
	ErrStorage               = New(ERR_STORAGE, "storage error")
	ErrInvalidTransition     = New(ERR_INVALID_TRANSITION, "invalid transition")
	ErrConfiguration         = New(ERR_CONFIGURATION, "configuration error")
)

func NewTxMalformedError(message string, params ...interface{}) error {
	return New(ERR_TX_MALFORMED, message, params...)
}

func NewBlockMalformedError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_MALFORMED, message, params...)
}

func NewBadMerkleRootError(message string, params ...interface{}) error {
	return New(ERR_BAD_MERKLE_ROOT, message, params...)
}

func NewBadCoinbaseError(message string, params ...interface{}) error {
	return New(ERR_BAD_COINBASE, message, params...)
}

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}

func NewTxAlreadyExistsError(message string, params ...interface{}) error {
	return New(ERR_TX_ALREADY_EXISTS, message, params...)
}

func NewTxMissingInputsError(message string, params ...interface{}) error {
	return New(ERR_TX_MISSING_INPUTS, message, params...)
}

func NewTxDoubleSpendError(message string, params ...interface{}) error {
	return New(ERR_TX_DOUBLE_SPEND, message, params...)
}

func NewTxInvalidError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID, message, params...)
}

func NewRBFRejectedError(message string, params ...interface{}) error {
	return New(ERR_RBF_REJECTED, message, params...)
}

func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}

func NewTxOrphanError(message string, params ...interface{}) error {
	return New(ERR_TX_ORPHAN, message, params...)
}

func NewMempoolFullError(message string, params ...interface{}) error {
	return New(ERR_MEMPOOL_FULL, message, params...)
}

func NewReorganizationTooDeepError(message string, params ...interface{}) error {
	return New(ERR_REORGANIZATION_TOO_DEEP, message, params...)
}

func NewBadHeaderError(message string, params ...interface{}) error {
	return New(ERR_BAD_HEADER, message, params...)
}

func NewBadTargetError(message string, params ...interface{}) error {
	return New(ERR_BAD_TARGET, message, params...)
}

func NewBadSealError(message string, params ...interface{}) error {
	return New(ERR_BAD_SEAL, message, params...)
}

func NewBadTimestampError(message string, params ...interface{}) error {
	return New(ERR_BAD_TIMESTAMP, message, params...)
}

func NewOrphanBlockError(message string, params ...interface{}) error {
	return New(ERR_ORPHAN_BLOCK, message, params...)
}

func NewBlockInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_INVALID, message, params...)
}

func NewTransferTimeoutError(message string, params ...interface{}) error {
	return New(ERR_TRANSFER_TIMEOUT, message, params...)
}

func NewQuorumNotReachedError(message string, params ...interface{}) error {
	return New(ERR_QUORUM_NOT_REACHED, message, params...)
}

func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}

func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE, message, params...)
}

func NewInvalidTransitionError(message string, params ...interface{}) error {
	return New(ERR_INVALID_TRANSITION, message, params...)
}

func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
