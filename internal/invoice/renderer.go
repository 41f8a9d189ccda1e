package invoice

import (
	"bytes"
	"fmt"
	"text/template"
)

type ViewLine struct {
	Description string
	Quantity    int
	UnitPrice   string
	Total       string
}

type ViewModel struct {
	Seller        string
	InvoiceNumber string
	Type          string
	IssuedAt      string
	CustomerName  string
	CustomerEmail string
	Currency      string
	Lines         []ViewLine
	Subtotal      string
	Discount      string
	Total         string
}

// Renderer turns an invoice view model into a document. Implementations must
// be pure: same input, same bytes.
type Renderer interface {
	Render(vm ViewModel) ([]byte, error)
}

const textLayout = `{{.Seller}}
INVOICE {{.InvoiceNumber}} ({{.Type}})
Issued: {{.IssuedAt}}
Bill to: {{.CustomerName}} <{{.CustomerEmail}}>

{{range .Lines}}{{printf "%-40s %3d x %10s = %10s" .Description .Quantity .UnitPrice .Total}}
{{end}}
{{printf "%-40s %27s" "Subtotal" .Subtotal}} {{.Currency}}
{{printf "%-40s %27s" "Discount" .Discount}} {{.Currency}}
{{printf "%-40s %27s" "Total" .Total}} {{.Currency}}
`

type TextRenderer struct {
	tmpl *template.Template
}

func NewTextRenderer() *TextRenderer {
	return &TextRenderer{tmpl: template.Must(template.New("invoice").Parse(textLayout))}
}

func (r *TextRenderer) Render(vm ViewModel) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, vm); err != nil {
		return nil, fmt.Errorf("TextRenderer.Render: %w", err)
	}
	return buf.Bytes(), nil
}
