package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// CallDescriber decodes calldata against a registered ABI
type CallDescriber interface {
	DescribeCall(contractName string, data []byte) (string, error)
}

// TransactionRenderer renders detailed information about a single transaction
type TransactionRenderer struct {
	out      io.Writer
	color    bool
	describe CallDescriber
}

// NewTransactionRenderer creates a new transaction renderer. describe may be nil.
func NewTransactionRenderer(out io.Writer, color bool, describe CallDescriber) *TransactionRenderer {
	return &TransactionRenderer{
		out:      out,
		color:    color,
		describe: describe,
	}
}

// RenderTransaction renders a transaction with its attempts
func (r *TransactionRenderer) RenderTransaction(tx *models.Transaction) error {
	r.header(fmt.Sprintf("Transaction: %s", tx.IntentID))
	fmt.Fprintln(r.out, strings.Repeat("=", 80))

	r.section("Basic Information:")
	r.field("Status", formatStatus(tx.Status(), r.color))
	r.field("From", tx.From.Hex())
	r.field("To", tx.To.Hex())
	r.field("Chain ID", fmt.Sprintf("%d", tx.ChainID))
	r.field("Value", formatWei(tx.Value))
	if tx.Deadline > 0 {
		r.field("Deadline", time.Unix(int64(tx.Deadline), 0).Local().Format(time.DateTime))
	}
	if tx.Gas > 0 {
		r.field("Gas Limit", formatCount(tx.Gas)+" (fixed)")
	}
	if block := tx.CollectionBlock(); block > 0 {
		r.field("Collected At", "block "+formatCount(block))
	}

	r.section("Call:")
	r.field("Call", r.describeCall(tx))
	if len(tx.Calldata) > 0 {
		r.field("Calldata", hexutil.Encode(tx.Calldata))
	}

	if len(tx.Metadata) > 0 {
		r.section("Metadata:")
		keys := make([]string, 0, len(tx.Metadata))
		for k := range tx.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.field(k, fmt.Sprint(tx.Metadata[k]))
		}
	}

	attempts := tx.Attempts()
	r.section(fmt.Sprintf("Attempts (%d):", len(attempts)))
	if len(attempts) == 0 {
		fmt.Fprintln(r.out, "  none")
	} else {
		t := newTable()
		t.AppendHeader(table.Row{"#", "TYPE", "NONCE", "HASH", "MAX FEE", "TIP", "GAS"})
		for i, a := range attempts {
			t.AppendRow(table.Row{
				i + 1,
				a.Type,
				a.Nonce,
				a.Hash.Hex(),
				formatGwei(a.MaxFeePerGas),
				formatGwei(a.MaxPriorityFeePerGas),
				formatCount(a.Gas),
			})
		}
		for _, line := range strings.Split(t.Render(), "\n") {
			fmt.Fprintf(r.out, "  %s\n", line)
		}
	}

	r.section("Timestamps:")
	r.field("Created", tx.CreatedAt.Local().Format(time.DateTime))
	r.field("Updated", tx.UpdatedAt().Local().Format(time.DateTime))
	return nil
}

func (r *TransactionRenderer) describeCall(tx *models.Transaction) string {
	if tx.ContractName == "" {
		return callSummary(tx)
	}
	if r.describe != nil && len(tx.Calldata) > 0 {
		if desc, err := r.describe.DescribeCall(tx.ContractName, tx.Calldata); err == nil {
			return desc
		}
	}
	return fmt.Sprintf("%s.%s(%s)", tx.ContractName, tx.FunctionName, formatArgs(tx.Args))
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ", ")
}

func (r *TransactionRenderer) header(s string) {
	if r.color {
		headerStyle.Fprintln(r.out, s)
		return
	}
	fmt.Fprintln(r.out, s)
}

func (r *TransactionRenderer) section(s string) {
	if r.color {
		s = labelStyle.Sprint(s)
	}
	fmt.Fprintf(r.out, "\n%s\n", s)
}

func (r *TransactionRenderer) field(name, value string) {
	fmt.Fprintf(r.out, "  %s: %s\n", name, value)
}
