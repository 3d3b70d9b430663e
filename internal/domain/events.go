package domain

import (
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// HookType names an event that can be observed through the hook API
type HookType string

const (
	// HookAll receives every event below
	HookAll                         HookType = "All"
	HookNewBlock                    HookType = "NewBlock"
	HookTransactionStatusChanged    HookType = "TransactionStatusChanged"
	HookTransactionSaveFailed       HookType = "TransactionSaveFailed"
	HookTransactionSubmissionFailed HookType = "TransactionSubmissionFailed"
	HookRpcIsDown                   HookType = "RpcIsDown"
	HookRpcIsUp                     HookType = "RpcIsUp"
)

// Event is implemented by every hook payload
type Event interface {
	HookType() HookType
}

type NewBlockEvent struct {
	Block models.Block
}

func (NewBlockEvent) HookType() HookType { return HookNewBlock }

type TransactionStatusChangedEvent struct {
	Transaction *models.Transaction
	From        models.TransactionStatus
	To          models.TransactionStatus
}

func (TransactionStatusChangedEvent) HookType() HookType { return HookTransactionStatusChanged }

type TransactionSaveFailedEvent struct {
	Transactions []*models.Transaction
	Err          error
}

func (TransactionSaveFailedEvent) HookType() HookType { return HookTransactionSaveFailed }

type TransactionSubmissionFailedEvent struct {
	Transaction *models.Transaction
	Cause       SubmissionCause
	Description string
}

func (TransactionSubmissionFailedEvent) HookType() HookType { return HookTransactionSubmissionFailed }

type RpcIsDownEvent struct{}

func (RpcIsDownEvent) HookType() HookType { return HookRpcIsDown }

type RpcIsUpEvent struct{}

func (RpcIsUpEvent) HookType() HookType { return HookRpcIsUp }
