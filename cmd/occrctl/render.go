package main

import (
	"io"
	"math/big"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const unitDecimals = 18

var (
	printer = message.NewPrinter(language.English)
	titler  = cases.Title(language.English)

	headerStyle    = color.New(color.Bold, color.FgHiWhite)
	okStyle        = color.New(color.FgGreen)
	warnStyle      = color.New(color.FgYellow)
	dangerStyle    = color.New(color.FgRed, color.Bold)
	addressStyle   = color.New(color.FgCyan)
	timestampStyle = color.New(color.Faint)
)

func newTable(out io.Writer, header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.AppendHeader(table.Row(header))
	return t
}

func rightAligned(columns ...int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(columns))
	for _, col := range columns {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight})
	}
	return configs
}

// formatUnits renders a base-unit integer string as a grouped decimal with
// up to six fractional digits. Values that do not parse are returned as is.
func formatUnits(raw string) string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return raw
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(unitDecimals), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))
	intPart := whole.String()
	if whole.IsUint64() {
		intPart = printer.Sprintf("%d", whole.Uint64())
	}
	if frac.Sign() == 0 {
		return intPart
	}
	digits := frac.String()
	digits = strings.Repeat("0", unitDecimals-len(digits)) + digits
	if len(digits) > 6 {
		digits = digits[:6]
	}
	digits = strings.TrimRight(digits, "0")
	if digits == "" {
		return intPart
	}
	return intPart + "." + digits
}

func formatBps(bps uint64) string {
	return printer.Sprintf("%.2f%%", float64(bps)/100)
}

func formatScore(micro uint64) string {
	return printer.Sprintf("%d", micro)
}

// eventTitle turns "lending.repay.onBehalf" into "Lending Repay On Behalf".
func eventTitle(eventType string) string {
	var b strings.Builder
	for i, r := range eventType {
		switch {
		case r == '.' || r == '_':
			b.WriteByte(' ')
		case r >= 'A' && r <= 'Z' && i > 0:
			b.WriteByte(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return titler.String(b.String())
}

func healthLabel(underwater bool) string {
	if underwater {
		return dangerStyle.Sprint("underwater")
	}
	return okStyle.Sprint("healthy")
}
