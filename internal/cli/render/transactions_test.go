package render

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

var target = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTx(t *testing.T, p models.TransactionParams) *models.Transaction {
	t.Helper()
	p.To = target
	p.ChainID = 1337
	return models.NewTransaction(p)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Not Attempted", StatusLabel(models.TransactionStatusNotAttempted))
	assert.Equal(t, "Pending", StatusLabel(models.TransactionStatusPending))
	assert.Equal(t, "Cancelled", StatusLabel(models.TransactionStatusCancelled))
}

func TestFormatAmounts(t *testing.T) {
	assert.Equal(t, "1.50 gwei", formatGwei(big.NewInt(1_500_000_000)))
	assert.Equal(t, "1,234.00 gwei", formatGwei(new(big.Int).Mul(big.NewInt(1234), big.NewInt(params.GWei))))
	assert.Equal(t, "-", formatGwei(nil))
	assert.Equal(t, "21,000", formatCount(21000))
	assert.Equal(t, "0", formatWei(nil))
	assert.Equal(t, "1,000 wei", formatWei(big.NewInt(1000)))
}

func TestCallSummary(t *testing.T) {
	assert.Equal(t, "transfer", callSummary(newTx(t, models.TransactionParams{})))
	assert.Equal(t, "0xa9059cbb", callSummary(newTx(t, models.TransactionParams{Calldata: common.FromHex("0xa9059cbb0000")})))
	assert.Equal(t, "0x01", callSummary(newTx(t, models.TransactionParams{Calldata: []byte{1}})))
	assert.Equal(t, "Token.transfer", callSummary(newTx(t, models.TransactionParams{ContractName: "Token", FunctionName: "transfer"})))
}

func TestRenderTransactionList(t *testing.T) {
	var buf bytes.Buffer
	r := NewTransactionsRenderer(&buf, false)

	require.NoError(t, r.RenderTransactionList(nil))
	assert.Equal(t, "No transactions found\n", buf.String())

	buf.Reset()
	tx := newTx(t, models.TransactionParams{ContractName: "Token", FunctionName: "mint"})
	_, err := tx.AddAttempt(models.Attempt{Type: models.AttemptTypeOriginal, Hash: common.Hash{1}, Nonce: 7, Gas: 21000})
	require.NoError(t, err)

	require.NoError(t, r.RenderTransactionList([]*models.Transaction{tx}))
	out := buf.String()
	assert.Contains(t, out, "INTENT")
	assert.Contains(t, out, tx.IntentID.String())
	assert.Contains(t, out, "Pending")
	assert.Contains(t, out, "Token.mint")
	assert.Contains(t, out, target.Hex())
	assert.Contains(t, out, "1 transactions")
}

func TestRenderSubmitResult(t *testing.T) {
	ok := newTx(t, models.TransactionParams{})
	_, err := ok.ChangeStatus(models.TransactionStatusSuccess)
	require.NoError(t, err)
	failed := newTx(t, models.TransactionParams{})
	_, err = failed.ChangeStatus(models.TransactionStatusFailed)
	require.NoError(t, err)

	var buf bytes.Buffer
	r := NewTransactionsRenderer(&buf, false)
	require.NoError(t, r.RenderSubmitResult(&usecase.SubmitIntentsResult{Transactions: []*models.Transaction{ok}, Finalized: true}))
	assert.Contains(t, buf.String(), "All 1 transactions succeeded")

	buf.Reset()
	require.NoError(t, r.RenderSubmitResult(&usecase.SubmitIntentsResult{Transactions: []*models.Transaction{ok, failed}, Finalized: true}))
	assert.Contains(t, buf.String(), "1 of 2 transactions did not succeed")

	buf.Reset()
	require.NoError(t, r.RenderSubmitResult(&usecase.SubmitIntentsResult{Transactions: []*models.Transaction{ok}}))
	assert.Contains(t, buf.String(), "Submitted 1 transactions")
}

type fakeDescriber struct {
	desc string
	err  error
}

func (f fakeDescriber) DescribeCall(string, []byte) (string, error) { return f.desc, f.err }

func TestRenderTransaction(t *testing.T) {
	tx := newTx(t, models.TransactionParams{
		ContractName: "Token",
		FunctionName: "transfer",
		Args:         []any{"0xbeef", "5"},
		Calldata:     common.FromHex("0xa9059cbb"),
		Deadline:     1700000000,
		Metadata:     map[string]any{"b": 2, "a": 1},
	})
	_, err := tx.AddAttempt(models.Attempt{
		Type:                 models.AttemptTypeOriginal,
		Hash:                 common.HexToHash("0x01"),
		Nonce:                3,
		MaxFeePerGas:         big.NewInt(2 * params.GWei),
		MaxPriorityFeePerGas: big.NewInt(params.GWei),
		Gas:                  50000,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewTransactionRenderer(&buf, false, fakeDescriber{desc: "Token.transfer(0xbeef, 5)"}).RenderTransaction(tx))
	out := buf.String()
	assert.Contains(t, out, "Transaction: "+tx.IntentID.String())
	assert.Contains(t, out, "Status: Pending")
	assert.Contains(t, out, "Call: Token.transfer(0xbeef, 5)")
	assert.Contains(t, out, "Attempts (1):")
	assert.Contains(t, out, "2.00 gwei")
	assert.Contains(t, out, "50,000")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a: 1")), bytes.Index(buf.Bytes(), []byte("b: 2")))

	buf.Reset()
	require.NoError(t, NewTransactionRenderer(&buf, false, fakeDescriber{err: errors.New("unknown")}).RenderTransaction(tx))
	assert.Contains(t, buf.String(), "Call: Token.transfer(0xbeef, 5)")

	buf.Reset()
	require.NoError(t, NewTransactionRenderer(&buf, false, nil).RenderTransaction(newTx(t, models.TransactionParams{})))
	assert.Contains(t, buf.String(), "Call: transfer")
	assert.Contains(t, buf.String(), "Attempts (0):")
	assert.Contains(t, buf.String(), "  none")
}
