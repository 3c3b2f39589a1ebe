package bridge

import (
	"github.com/looplab/fsm"
)

// Transfer events.
const (
	EventConfirmSource = "confirm_source"
	EventMint          = "mint"
	EventComplete      = "complete"
	EventRevert        = "revert"
	// EventRemint returns a reverted transfer to Minted when its mint confirmed
	// again before the compensating burn.
	EventRemint    = "remint"
	EventReattempt = "reattempt"
	EventFail      = "fail"
	EventCancel    = "cancel"
)

// NewTransferFSM builds the state machine of one transfer:
//
//	Pending -> SourceConfirmed -> Minted -> Completed
//	Minted, Completed -> Reverted -> SourceConfirmed (next attempt) | Minted
//	Pending, SourceConfirmed -> Failed
//
// Failed is terminal. Completed only leaves through a destination reorganization.
func NewTransferFSM(initial Status, callbacks fsm.Callbacks) *fsm.FSM {
	if callbacks == nil {
		callbacks = fsm.Callbacks{}
	}
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{
				Name: EventConfirmSource,
				Src:  []string{string(StatusPending)},
				Dst:  string(StatusSourceConfirmed),
			},
			{
				Name: EventMint,
				Src:  []string{string(StatusSourceConfirmed)},
				Dst:  string(StatusMinted),
			},
			{
				Name: EventComplete,
				Src:  []string{string(StatusMinted)},
				Dst:  string(StatusCompleted),
			},
			{
				Name: EventRevert,
				Src: []string{
					string(StatusMinted),
					string(StatusCompleted),
				},
				Dst: string(StatusReverted),
			},
			{
				Name: EventRemint,
				Src:  []string{string(StatusReverted)},
				Dst:  string(StatusMinted),
			},
			{
				Name: EventReattempt,
				Src:  []string{string(StatusReverted)},
				Dst:  string(StatusSourceConfirmed),
			},
			{
				Name: EventFail,
				Src: []string{
					string(StatusPending),
					string(StatusSourceConfirmed),
				},
				Dst: string(StatusFailed),
			},
			{
				Name: EventCancel,
				Src:  []string{string(StatusPending)},
				Dst:  string(StatusFailed),
			},
		},
		callbacks,
	)
}
