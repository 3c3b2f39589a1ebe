package db

const (
	BLOCK_STATUS_STORED    = "stored"    // header valid, transactions not yet checked
	BLOCK_STATUS_CONNECTED = "connected" // fully validated and applied at least once
	BLOCK_STATUS_INVALID   = "invalid"

	TRANSFER_STATUS_PENDING          = "pending"
	TRANSFER_STATUS_SOURCE_CONFIRMED = "source_confirmed"
	TRANSFER_STATUS_MINTED           = "minted"
	TRANSFER_STATUS_COMPLETED        = "completed"
	TRANSFER_STATUS_REVERTED         = "reverted"
	TRANSFER_STATUS_FAILED           = "failed"
)
