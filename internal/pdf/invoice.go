// Package pdf renders invoices as PDF documents.
package pdf

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"timebill.org/internal/billing"
)

// Renderer produces PDF exports of invoices.
type Renderer struct {
	CompanyName string
}

// Render lays out one invoice and returns the PDF bytes.
func (g *Renderer) Render(inv billing.Invoice, client billing.Client) ([]byte, error) {
	m := maroto.New(config.NewBuilder().Build())

	company := g.CompanyName
	if company == "" {
		company = "Timebill"
	}

	m.AddRow(10,
		col.New(8).Add(
			text.New(company, props.Text{
				Size:  16,
				Style: fontstyle.Bold,
			}),
		),
		col.New(4).Add(
			text.New("INVOICE", props.Text{
				Size:  20,
				Style: fontstyle.BoldItalic,
				Align: align.Right,
			}),
		),
	)

	m.AddRow(6,
		col.New(8).Add(
			text.New(fmt.Sprintf("Bill To: %s", client.Name), props.Text{
				Size:  10,
				Style: fontstyle.Bold,
			}),
		),
		col.New(4).Add(
			text.New(fmt.Sprintf("Invoice #: %s", inv.ID), props.Text{
				Size:  10,
				Style: fontstyle.Bold,
				Align: align.Right,
			}),
		),
	)

	issued := "not issued"
	if inv.IssuedAt != nil {
		issued = inv.IssuedAt.Format("January 2, 2006")
	}
	m.AddRow(5,
		col.New(8).Add(
			text.New(fmt.Sprintf("Period: %s to %s", inv.PeriodStart, inv.PeriodEnd), props.Text{
				Size: 9,
			}),
		),
		col.New(4).Add(
			text.New(fmt.Sprintf("Issued: %s (%s)", issued, inv.Status), props.Text{
				Size:  9,
				Align: align.Right,
			}),
		),
	)

	m.AddRow(10)

	// Line item table header.
	m.AddRow(8,
		col.New(6).Add(
			text.New("Description", props.Text{
				Size:  9,
				Style: fontstyle.Bold,
			}),
		),
		col.New(2).Add(
			text.New("Hours", props.Text{
				Size:  9,
				Style: fontstyle.Bold,
				Align: align.Right,
			}),
		),
		col.New(2).Add(
			text.New("Rate", props.Text{
				Size:  9,
				Style: fontstyle.Bold,
				Align: align.Right,
			}),
		),
		col.New(2).Add(
			text.New("Amount", props.Text{
				Size:  9,
				Style: fontstyle.Bold,
				Align: align.Right,
			}),
		),
	)

	for _, li := range inv.LineItems {
		m.AddRow(6,
			col.New(6).Add(
				text.New(li.Description, props.Text{
					Size: 8,
				}),
			),
			col.New(2).Add(
				text.New(fmt.Sprintf("%.2f", li.QuantityHours), props.Text{
					Size:  8,
					Align: align.Right,
				}),
			),
			col.New(2).Add(
				text.New(li.HourlyRate.String(), props.Text{
					Size:  8,
					Align: align.Right,
				}),
			),
			col.New(2).Add(
				text.New(fmt.Sprintf("%s %s", inv.Currency, li.Amount), props.Text{
					Size:  8,
					Align: align.Right,
				}),
			),
		)
	}

	m.AddRow(8)

	totals := []struct {
		label string
		value billing.Amount
	}{
		{"Subtotal:", inv.Subtotal},
		{"Taxes:", inv.Taxes},
		{"Total:", inv.Total},
	}
	for _, row := range totals {
		m.AddRow(6,
			col.New(8),
			col.New(2).Add(
				text.New(row.label, props.Text{
					Size:  9,
					Style: fontstyle.Bold,
					Align: align.Right,
				}),
			),
			col.New(2).Add(
				text.New(fmt.Sprintf("%s %s", inv.Currency, row.value), props.Text{
					Size:  9,
					Align: align.Right,
				}),
			),
		)
	}

	if inv.Notes != "" {
		m.AddRow(8)
		m.AddRow(6,
			col.New(12).Add(
				text.New(inv.Notes, props.Text{
					Size: 8,
				}),
			),
		)
	}

	document, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("rendering invoice %s: %w", inv.ID, err)
	}
	return document.GetBytes(), nil
}
