package render

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// TransactionsRenderer renders transaction lists as tables
type TransactionsRenderer struct {
	out   io.Writer
	color bool
}

// NewTransactionsRenderer creates a new transactions renderer
func NewTransactionsRenderer(out io.Writer, color bool) *TransactionsRenderer {
	return &TransactionsRenderer{
		out:   out,
		color: color,
	}
}

// RenderTransactionList renders one row per transaction, newest first as given
func (r *TransactionsRenderer) RenderTransactionList(txs []*models.Transaction) error {
	if len(txs) == 0 {
		fmt.Fprintln(r.out, "No transactions found")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"INTENT", "STATUS", "NONCE", "TO", "CALL", "ATTEMPTS", "UPDATED"})
	for _, tx := range txs {
		nonce := "-"
		if last, ok := tx.LastAttempt(); ok {
			nonce = fmt.Sprintf("%d", last.Nonce)
		}
		t.AppendRow(table.Row{
			tx.IntentID.String(),
			formatStatus(tx.Status(), r.color),
			nonce,
			tx.To.Hex(),
			callSummary(tx),
			len(tx.Attempts()),
			r.faint(tx.UpdatedAt().Local().Format(time.DateTime)),
		})
	}
	fmt.Fprintln(r.out, t.Render())
	fmt.Fprintf(r.out, "\n%s\n", r.faint(fmt.Sprintf("%d transactions", len(txs))))
	return nil
}

// RenderSubmitResult summarizes a submitted intents file
func (r *TransactionsRenderer) RenderSubmitResult(result *usecase.SubmitIntentsResult) error {
	if err := r.RenderTransactionList(result.Transactions); err != nil {
		return err
	}

	if !result.Finalized {
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Submitted %d transactions", len(result.Transactions))))
		return nil
	}

	failed := 0
	for _, tx := range result.Transactions {
		if tx.Status() != models.TransactionStatusSuccess {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("%d of %d transactions did not succeed", failed, len(result.Transactions))))
		return nil
	}
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("All %d transactions succeeded", len(result.Transactions))))
	return nil
}

func (r *TransactionsRenderer) faint(s string) string {
	if !r.color {
		return s
	}
	return faintStyle.Sprint(s)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateHeader = false
	t.Style().Options.SeparateColumns = false
	t.Style().Box = table.BoxStyle{
		PaddingRight: "   ",
	}
	t.Style().Format.Header = text.FormatDefault

	colConfigs := make([]table.ColumnConfig, 7)
	for i := range colConfigs {
		colConfigs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft}
	}
	t.SetColumnConfigs(colConfigs)
	return t
}

// callSummary is "Contract.function", a selector for raw calldata, or
// "transfer" for plain value transfers
func callSummary(tx *models.Transaction) string {
	switch {
	case tx.ContractName != "":
		return tx.ContractName + "." + tx.FunctionName
	case len(tx.Calldata) >= 4:
		return hexutil.Encode(tx.Calldata[:4])
	case len(tx.Calldata) > 0:
		return hexutil.Encode(tx.Calldata)
	default:
		return "transfer"
	}
}
