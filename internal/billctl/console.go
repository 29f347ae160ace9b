package billctl

import (
	"fmt"
	"io"
	"math"

	"github.com/fatih/color"
	"github.com/pterm/pterm"

	"billing/internal/core"
)

// Predefined colors for consistent output
var (
	BoldCyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	BoldGreen  = color.New(color.FgGreen, color.Bold).SprintFunc()
	BoldYellow = color.New(color.FgYellow, color.Bold).SprintFunc()
)

// Console prints to one writer with pterm.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

func (c *Console) Info(format string, a ...any) {
	pterm.Info.WithWriter(c.out).Printfln(format, a...)
}

func (c *Console) Success(format string, a ...any) {
	pterm.Success.WithWriter(c.out).Printfln(format, a...)
}

func (c *Console) Warning(format string, a ...any) {
	pterm.Warning.WithWriter(c.out).Printfln(format, a...)
}

// Bills prints the bills table, or the empty-state line.
func (c *Console) Bills(bills []core.BillingRecord) error {
	if len(bills) == 0 {
		c.Warning("No records found")
		return nil
	}
	data := pterm.TableData{{"Bill ID", "Name", "Contact", "Email", "Amount", "Date"}}
	for _, b := range bills {
		data = append(data, []string{
			BoldCyan(b.ID),
			b.Name,
			b.Contact,
			b.Email,
			BoldGreen(b.Amount.String()),
			b.DisplayDate(),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(c.out).Render()
}

// Stats prints the three dashboard counters.
func (c *Console) Stats(s core.UserStats) error {
	data := pterm.TableData{
		{"Total Customers", "Total Bills", "Total Amount"},
		{fmt.Sprint(s.CustomerCount), fmt.Sprint(s.BillCount), BoldGreen(s.FormattedTotal())},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(c.out).Render()
}

// Chart draws one horizontal bar per customer. Bar lengths are rounded
// amounts; the labels carry the exact totals.
func (c *Console) Chart(points []core.ChartPoint) error {
	if len(points) == 0 {
		c.Warning("No records found")
		return nil
	}
	c.Println(BoldYellow("Total Amount by Customer"))
	bars := make(pterm.Bars, 0, len(points))
	for _, p := range points {
		bar := core.Bar{ChartPoint: p}
		bars = append(bars, pterm.Bar{
			Label: fmt.Sprintf("%s (%s)", p.Name, bar.Label()),
			Value: int(math.Round(p.Amount)),
		})
	}
	return pterm.DefaultBarChart.
		WithBars(bars).
		WithHorizontal().
		WithShowValue().
		WithWriter(c.out).
		Render()
}
