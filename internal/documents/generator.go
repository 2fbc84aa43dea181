package documents

import (
	"context"

	"medcabinet.org/internal/obs"
)

// FallbackMessage tells the client to render the PDF from the returned HTML.
const FallbackMessage = "Use client-side PDF generation"

// Rendered is the output of a generation request.
type Rendered struct {
	HTML    string
	PDF     []byte
	Message string
}

// Generator renders HTML and, when configured, a PDF.
type Generator struct {
	converter Converter
	local     bool
}

// GeneratorOption configures Generator.
type GeneratorOption func(*Generator)

// WithConverter converts the rendered HTML with an external service.
func WithConverter(c Converter) GeneratorOption {
	return func(g *Generator) { g.converter = c }
}

// WithLocalPDF draws PDFs in-process instead of converting HTML.
func WithLocalPDF() GeneratorOption {
	return func(g *Generator) { g.local = true }
}

func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Certificate renders c with the cabinet settings.
func (g *Generator) Certificate(ctx context.Context, c *Certificate, s CertificateSettings) (Rendered, error) {
	html, err := RenderCertificateHTML(c, s)
	if err != nil {
		return Rendered{}, err
	}
	return g.finish(ctx, "certificate", html, func() ([]byte, error) { return RenderCertificatePDF(c, s) }), nil
}

// Prescription renders p with the cabinet header.
func (g *Generator) Prescription(ctx context.Context, p *Prescription, c Cabinet) (Rendered, error) {
	html, err := RenderPrescriptionHTML(p, c)
	if err != nil {
		return Rendered{}, err
	}
	return g.finish(ctx, "prescription", html, func() ([]byte, error) { return RenderPrescriptionPDF(p, c) }), nil
}

func (g *Generator) finish(ctx context.Context, kind, html string, local func() ([]byte, error)) Rendered {
	out := Rendered{HTML: html}
	var (
		pdf []byte
		err error
	)
	switch {
	case g.local:
		pdf, err = local()
	case g.converter != nil:
		pdf, err = g.converter.Convert(ctx, html)
	default:
		out.Message = FallbackMessage
		obs.DocumentGenerated(kind, "html")
		return out
	}
	if err != nil {
		obs.Logger().Warn().Err(err).Str("kind", kind).Msg("pdf generation failed, returning html")
		out.Message = FallbackMessage
		obs.DocumentGenerated(kind, "html")
		return out
	}
	out.PDF = pdf
	obs.DocumentGenerated(kind, "pdf")
	return out
}
