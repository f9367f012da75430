package invoice

import (
	"fmt"
	"io"
	"strings"

	"github.com/phpdave11/gofpdf"

	"github.com/noah-isme/backend-invoicing/internal/store"
)

// RenderPDF writes a one-page PDF rendition of the invoice. The client's
// rate rules drive the human-readable billing description line.
func RenderPDF(w io.Writer, inv store.Invoice, client store.Client) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Invoice "+inv.ID, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.Cell(0, 12, "INVOICE")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.Cell(0, 5, "Invoice ID: "+inv.ID)
	pdf.Ln(5)
	if inv.DateInvoiced != nil {
		pdf.Cell(0, 5, "Date invoiced: "+inv.DateInvoiced.Format("January 2, 2006"))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 6, "Billed to")
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, inv.ClientName)
	pdf.Ln(6)
	if client.Email != "" {
		pdf.Cell(0, 6, client.Email)
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(120, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(120, 8, billingDescription(inv, client), "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, fmt.Sprintf("$%.2f", inv.InvoicedAmount), "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(120, 8, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, fmt.Sprintf("$%.2f", inv.InvoicedAmount), "1", 1, "R", false, 0, "")
	pdf.Ln(8)

	if inv.Paid() {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(0, 140, 60)
		pdf.Cell(0, 8, "PAID "+inv.DatePaid.Format("January 2, 2006"))
	} else {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(180, 120, 0)
		pdf.Cell(0, 8, "PAYMENT PENDING")
	}

	if inv.Note != "" {
		pdf.Ln(12)
		pdf.SetTextColor(90, 90, 90)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, inv.Note, "", "L", false)
	}

	return pdf.Output(w)
}

// billingDescription renders the line-item text: episode title plus how the
// charge was computed under the client's rate rule for that episode type.
func billingDescription(inv store.Invoice, client store.Client) string {
	desc := inv.EpisodeTitle
	rate, ok := client.RateFor(inv.EpisodeType)
	if !ok {
		return desc
	}
	switch strings.ToLower(rate.RateType) {
	case "minute":
		return fmt.Sprintf("%s - %.1f billed minutes @ $%.2f/min", desc, inv.BilledMinutes, rate.Rate)
	case "hour":
		return fmt.Sprintf("%s - %.2f billable hours @ $%.2f/hr", desc, inv.BillableHours, rate.Rate)
	case "flat":
		return fmt.Sprintf("%s - flat rate %s", desc, inv.EpisodeType)
	default:
		return desc
	}
}
