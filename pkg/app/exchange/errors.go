package exchange

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperswap/pkg/app/core/engine"
)

var (
	ErrNonceTooLow        = errors.New("nonce too low")
	ErrApproveUnsupported = errors.New("approvals are only accepted for the in-process ledger")
	ErrBadGenesis         = errors.New("bad genesis")

	// ErrAttachUnsupported is returned for buys when custody is an external chain:
	// payment sent with a transaction never reaches the custody account there.
	ErrAttachUnsupported = fmt.Errorf("%w: custody cannot take attached payment", engine.ErrTransferFailed)
)
