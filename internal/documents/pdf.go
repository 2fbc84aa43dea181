package documents

import (
	"bytes"
	"strconv"

	"github.com/go-pdf/fpdf"
)

const pageWidth = 170.0 // A4 minus 20mm side margins

type pdfDoc struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newPDF(title, author string) *pdfDoc {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 15, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(title, true)
	pdf.SetAuthor(author, true)
	pdf.AddPage()
	return &pdfDoc{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (d *pdfDoc) line(family, style string, size float64, align, s string) {
	d.pdf.SetFont(family, style, size)
	d.pdf.MultiCell(pageWidth, size*0.5, d.tr(s), "", align, false)
}

func (d *pdfDoc) rule(r, g, b int) {
	d.pdf.SetDrawColor(r, g, b)
	y := d.pdf.GetY()
	d.pdf.Line(20, y, 20+pageWidth, y)
}

func (d *pdfDoc) paragraph(p Paragraph, size float64) {
	h := size * 0.6
	if len(p.Lines) > 0 {
		d.pdf.SetFont("Times", "", size)
		for _, l := range p.Lines {
			d.pdf.MultiCell(pageWidth, h, d.tr(l), "", "L", false)
		}
		d.pdf.Ln(h)
		return
	}
	for _, seg := range p.Segments {
		style := ""
		if seg.Bold {
			style = "B"
		}
		d.pdf.SetFont("Times", style, size)
		d.pdf.Write(h, d.tr(seg.Text))
	}
	d.pdf.Ln(h * 2)
}

func (d *pdfDoc) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderCertificatePDF draws the certificate directly with fpdf.
// Arabic labels are omitted: the core PDF fonts have no Arabic glyphs.
func RenderCertificatePDF(c *Certificate, s CertificateSettings) ([]byte, error) {
	doc := buildCertificate(c, s)
	d := newPDF(doc.Title, doc.DoctorName)

	d.pdf.SetTextColor(37, 99, 235)
	d.line("Times", "B", 18, "L", doc.DoctorName)
	d.pdf.SetTextColor(192, 86, 33)
	d.line("Times", "", 11, "L", doc.Specialty.NameFrLong)
	d.pdf.Ln(4)
	d.rule(30, 64, 175)
	d.pdf.Ln(14)

	d.pdf.SetTextColor(30, 64, 175)
	d.line("Times", "B", 20, "C", doc.Title)
	d.pdf.Ln(12)

	d.pdf.SetTextColor(0, 0, 0)
	for _, p := range doc.Paragraphs {
		size := 13.0
		if p.Small {
			size = 11
		}
		d.paragraph(p, size)
	}

	d.pdf.Ln(10)
	d.line("Times", "", 12, "R", "Fait à "+doc.Place+", le "+doc.Date)
	d.pdf.Ln(8)
	d.line("Times", "B", 12, "R", doc.DoctorName)
	d.pdf.SetTextColor(102, 102, 102)
	d.line("Times", "", 10, "R", doc.Specialty.NameFrLong)
	d.pdf.Ln(16)
	d.line("Times", "", 9, "R", "Signature et cachet")

	d.pdf.Ln(20)
	d.rule(221, 221, 221)
	d.pdf.Ln(3)
	d.line("Times", "", 9, "C", doc.CabinetName+" - "+doc.Address)
	if doc.Phone != "" {
		d.line("Times", "", 9, "C", "Tél: "+doc.Phone)
	}
	return d.bytes()
}

// RenderPrescriptionPDF draws the prescription directly with fpdf.
func RenderPrescriptionPDF(p *Prescription, c Cabinet) ([]byte, error) {
	doc := buildPrescription(p, c)
	d := newPDF("Ordonnance", c.Doctor)

	d.pdf.SetTextColor(37, 99, 235)
	d.line("Helvetica", "B", 18, "L", c.Name)
	d.pdf.SetTextColor(31, 41, 55)
	d.line("Helvetica", "", 13, "L", c.Doctor)
	d.pdf.SetTextColor(107, 114, 128)
	d.line("Helvetica", "", 11, "L", c.Specialty)
	for _, contact := range []string{c.Address, c.Phone, c.Email} {
		if contact != "" {
			d.line("Helvetica", "", 9, "R", contact)
		}
	}
	d.pdf.Ln(3)
	d.rule(37, 99, 235)
	d.pdf.Ln(8)

	d.line("Helvetica", "", 9, "L", "Patient")
	d.pdf.SetTextColor(31, 41, 55)
	d.line("Helvetica", "B", 13, "L", doc.PatientName)
	if doc.BirthInfo != "" {
		d.pdf.SetTextColor(107, 114, 128)
		d.line("Helvetica", "", 9, "L", doc.BirthInfo)
	}
	d.pdf.SetTextColor(31, 41, 55)
	d.line("Helvetica", "B", 11, "R", "Date : "+doc.Date)
	d.pdf.Ln(8)

	d.pdf.SetTextColor(37, 99, 235)
	d.line("Helvetica", "B", 15, "C", "ORDONNANCE MÉDICALE")
	d.pdf.Ln(8)

	for _, item := range doc.Items {
		d.pdf.SetTextColor(31, 41, 55)
		title := strconv.Itoa(item.Index) + ". " + item.NomMedicament
		if item.Dosage != "" {
			title += " (" + item.Dosage + ")"
		}
		d.line("Helvetica", "B", 12, "L", title)
		d.line("Helvetica", "", 11, "L", "     "+item.Posologie)
		d.pdf.SetTextColor(107, 114, 128)
		if item.Duree != "" {
			d.line("Helvetica", "", 10, "L", "     Durée : "+item.Duree)
		}
		if item.Instructions != "" {
			d.line("Helvetica", "I", 10, "L", "     "+item.Instructions)
		}
		d.pdf.Ln(4)
	}

	if doc.Notes != "" {
		d.pdf.SetTextColor(31, 41, 55)
		d.line("Helvetica", "B", 11, "L", "Recommandations :")
		d.pdf.SetTextColor(107, 114, 128)
		d.line("Helvetica", "", 10, "L", doc.Notes)
		d.pdf.Ln(4)
	}

	d.pdf.Ln(10)
	d.line("Helvetica", "", 9, "R", "Signature et cachet")
	d.pdf.Ln(20)
	d.pdf.SetTextColor(31, 41, 55)
	d.line("Helvetica", "B", 11, "R", c.Doctor)

	d.pdf.Ln(14)
	d.rule(229, 231, 235)
	d.pdf.Ln(3)
	d.pdf.SetTextColor(156, 163, 175)
	d.line("Helvetica", "", 8, "C", doc.Validity)
	return d.bytes()
}
