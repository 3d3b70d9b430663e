package usecase

import "strings"

// Node error messages differ between clients; these match geth, reth and
// the OP-stack sequencer.

func errorContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

func isNonceTooLow(err error) bool {
	return errorContains(err, "nonce too low")
}

func isAlreadyKnown(err error) bool {
	return errorContains(err, "already known", "known transaction", "already imported")
}

func isExecutionError(err error) bool {
	return errorContains(err, "execution reverted", "out of gas", "gas required exceeds allowance")
}

// isRejection matches errors where the node processed the request and refused the transaction
func isRejection(err error) bool {
	return isNonceTooLow(err) || isAlreadyKnown(err) || errorContains(err,
		"underpriced",
		"insufficient funds",
		"intrinsic gas too low",
		"exceeds block gas limit",
		"fee cap less than block base fee",
		"max fee per gas less than block base fee",
	)
}
