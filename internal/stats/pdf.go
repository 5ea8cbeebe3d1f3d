package stats

import (
	"fmt"
	"io"

	"github.com/phpdave11/gofpdf"

	"github.com/example/roadside-dispatch/internal/models"
)

const pdfTime = "2006-01-02 15:04 MST"

// RenderPDF writes a one-page summary of r.
func RenderPDF(w io.Writer, r *Report) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Roadside dispatch report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	title := "System report"
	if r.GarageID != "" {
		title = "Garage report: " + r.GarageID
	}
	pdf.Cell(0, 10, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s (%s to %s)", r.Period, r.From.Format(pdfTime), r.To.Format(pdfTime)))
	pdf.Ln(10)

	section(pdf, "Summary")
	line(pdf, "Total requests", fmt.Sprint(r.Total))
	line(pdf, "Notified", fmt.Sprint(r.SentSuccess))
	line(pdf, "Accepted", fmt.Sprint(r.Accepted))
	line(pdf, "Completed", fmt.Sprint(r.Completed))
	line(pdf, "Errors", fmt.Sprint(r.Errors))
	line(pdf, "No garage found", fmt.Sprint(r.NoGarage))
	line(pdf, "Acceptance rate", fmt.Sprintf("%.2f%%", r.AcceptanceRate))
	line(pdf, "Completion rate", fmt.Sprintf("%.2f%%", r.CompletionRate))
	line(pdf, "Success rate", fmt.Sprintf("%.2f%%", r.SuccessRate))
	line(pdf, "Error rate", fmt.Sprintf("%.2f%%", r.ErrorRate))
	pdf.Ln(4)

	section(pdf, "By status")
	for _, s := range models.AllStatuses {
		line(pdf, string(s), fmt.Sprint(r.Counts[s]))
	}
	pdf.Ln(4)

	if len(r.TopGarages) > 0 {
		section(pdf, "Top garages")
		for i, g := range r.TopGarages {
			name := g.Name
			if name == "" {
				name = g.GarageID
			}
			line(pdf, fmt.Sprintf("%d. %s", i+1, name), fmt.Sprintf("%d completed / %d", g.Completed, g.Total))
		}
	}
	if len(r.RecentActivity) > 0 {
		section(pdf, "Recent activity")
		pdf.SetFont("Helvetica", "", 9)
		for _, a := range r.RecentActivity {
			pdf.Cell(0, 5, fmt.Sprintf("%s  %-18s  %s (%s)", a.CreatedAt.Format(pdfTime), a.Status, a.RequesterName, a.RequesterPhone))
			pdf.Ln(5)
		}
	}

	return pdf.Output(w)
}

func section(pdf *gofpdf.Fpdf, name string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, name)
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
}

func line(pdf *gofpdf.Fpdf, label, value string) {
	pdf.Cell(70, 6, label)
	pdf.Cell(0, 6, value)
	pdf.Ln(6)
}
