package documents

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// RenderCertificateHTML renders a certificate as a standalone A4 HTML page.
// All supplied values are HTML-escaped.
func RenderCertificateHTML(c *Certificate, s CertificateSettings) (string, error) {
	return execute("certificate.html", buildCertificate(c, s))
}

// RenderPrescriptionHTML renders a prescription as a standalone A4 HTML page.
func RenderPrescriptionHTML(p *Prescription, c Cabinet) (string, error) {
	return execute("prescription.html", buildPrescription(p, c))
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
