package progress

import (
	"github.com/trebuchet-org/txm/internal/usecase"
)

// NewNopSink returns a sink for non-interactive output, such as --json
func NewNopSink() usecase.ProgressSink {
	return usecase.NopProgress{}
}
