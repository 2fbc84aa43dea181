package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultPDFLayerURL is the public conversion endpoint.
const DefaultPDFLayerURL = "https://api.pdflayer.com/api/convert"

const maxPDFBytes = 20 << 20

// Converter turns an HTML page into a PDF.
type Converter interface {
	Convert(ctx context.Context, html string) ([]byte, error)
}

// PDFLayer is a Converter backed by the pdflayer HTTP API.
type PDFLayer struct {
	URL       string
	AccessKey string
	Client    *http.Client
}

func NewPDFLayer(accessKey, endpoint string) *PDFLayer {
	if endpoint == "" {
		endpoint = DefaultPDFLayerURL
	}
	return &PDFLayer{
		URL:       endpoint,
		AccessKey: accessKey,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PDFLayer) Convert(ctx context.Context, html string) ([]byte, error) {
	if p.AccessKey == "" {
		return nil, errors.New("pdflayer: missing access key")
	}
	form := url.Values{
		"access_key":    {p.AccessKey},
		"document_html": {html},
		"page_size":     {"A4"},
		"margin_top":    {"15"},
		"margin_bottom": {"15"},
		"margin_left":   {"20"},
		"margin_right":  {"20"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdflayer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("pdflayer: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pdflayer: unexpected status %d", resp.StatusCode)
	}
	// Errors are reported as JSON with a 200 status.
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		return nil, errors.New("pdflayer: response is not a PDF")
	}
	return body, nil
}
