package render

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/params"
	"github.com/fatih/color"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer   = message.NewPrinter(language.English)
	titleCase = cases.Title(language.English)
	wordStart = regexp.MustCompile(`([a-z])([A-Z])`)

	faintStyle  = color.New(color.Faint)
	headerStyle = color.New(color.FgCyan, color.Bold)
	labelStyle  = color.New(color.Bold, color.FgHiWhite)
)

var statusStyles = map[models.TransactionStatus]*color.Color{
	models.TransactionStatusNotAttempted: color.New(color.Faint),
	models.TransactionStatusPending:      color.New(color.FgYellow),
	models.TransactionStatusInterrupted:  color.New(color.FgMagenta),
	models.TransactionStatusCancelling:   color.New(color.FgYellow, color.Bold),
	models.TransactionStatusSuccess:      color.New(color.FgGreen),
	models.TransactionStatusFailed:       color.New(color.FgRed),
	models.TransactionStatusExpired:      color.New(color.FgRed, color.Faint),
	models.TransactionStatusCancelled:    color.New(color.FgRed, color.Faint),
}

// FormatWarning formats a warning message with the warning icon
func FormatWarning(message string) string {
	return color.New(color.FgYellow).Sprintf("⚠️  %s", message)
}

// FormatError formats an error message with the error icon
func FormatError(message string) string {
	// Keep only the innermost message of an error chain
	parts := strings.Split(message, ": ")
	msg := parts[len(parts)-1]

	if len(msg) > 0 {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}

	return color.New(color.FgRed).Sprintf("❌ %s", msg)
}

// FormatSuccess formats a success message with the success icon
func FormatSuccess(message string) string {
	return color.New(color.FgGreen).Sprintf("✅ %s", message)
}

// StatusLabel turns NotAttempted into "Not Attempted"
func StatusLabel(status models.TransactionStatus) string {
	return titleCase.String(wordStart.ReplaceAllString(string(status), "$1 $2"))
}

func formatStatus(status models.TransactionStatus, useColor bool) string {
	label := StatusLabel(status)
	style, ok := statusStyles[status]
	if !useColor || !ok {
		return label
	}
	return style.Sprint(label)
}

// formatGwei renders a fee in gwei with grouped digits, e.g. "1,234.50 gwei"
func formatGwei(wei *big.Int) string {
	if wei == nil {
		return "-"
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.GWei)).Float64()
	return printer.Sprintf("%.2f gwei", gwei)
}

// formatWei renders an amount in wei with grouped digits
func formatWei(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	if wei.IsInt64() {
		return printer.Sprintf("%d wei", wei.Int64())
	}
	return fmt.Sprintf("%s wei", wei.String())
}

func formatCount(n uint64) string {
	return printer.Sprintf("%d", n)
}

// RenderJSON writes v as indented JSON
func RenderJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
