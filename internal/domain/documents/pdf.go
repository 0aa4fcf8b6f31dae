package documents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// PDFOptions brands the generated documents.
type PDFOptions struct {
	AppName    string
	BaseURL    string
	FooterText string
}

// VerifyURL is the public address a document's QR code points to.
func VerifyURL(baseURL, kind, code string) string {
	return strings.TrimRight(baseURL, "/") + "/verify/" + kind + "/" + code
}

// QRCode renders a PNG QR code for the verification URL of a document.
func QRCode(baseURL, kind, code string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(VerifyURL(baseURL, kind, code), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

type pdfWriter struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func newPDF(opts PDFOptions, title string) *pdfWriter {
	pdf := gofpdf.New("P", "mm", "A4", "")
	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-18)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.MultiCell(0, 4, w.tr(opts.FooterText), "", "C", false)
		pdf.CellFormat(0, 4, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(0, 70, 140)
	pdf.CellFormat(0, 9, w.tr(opts.AppName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, w.tr(title), "B", 1, "C", false, 0, "")
	pdf.Ln(4)
	return w
}

func (w *pdfWriter) detail(label, value string) {
	w.pdf.SetFont("Arial", "B", 10)
	w.pdf.CellFormat(45, 7, w.tr(label), "", 0, "", false, 0, "")
	w.pdf.SetFont("Arial", "", 10)
	w.pdf.MultiCell(0, 7, w.tr(value), "", "L", false)
}

func (w *pdfWriter) section(title string) {
	w.pdf.Ln(3)
	w.pdf.SetFont("Arial", "B", 11)
	w.pdf.SetFillColor(235, 240, 248)
	w.pdf.CellFormat(0, 8, w.tr(title), "", 1, "L", true, 0, "")
	w.pdf.Ln(1)
}

func (w *pdfWriter) paragraph(text string) {
	if text == "" {
		return
	}
	w.pdf.SetFont("Arial", "", 10)
	w.pdf.MultiCell(0, 6, w.tr(text), "", "L", false)
}

func (w *pdfWriter) header(h *Header) {
	w.detail("Médico:", h.DoctorName)
	if h.DoctorLicense != "" {
		w.detail("Licencia:", h.DoctorLicense)
	}
	w.detail("Centro médico:", h.CenterName)
	w.detail("Paciente:", h.PatientName)
	if h.PatientDocument != "" {
		w.detail("Documento:", h.PatientDocument)
	}
	w.detail("Fecha de emisión:", h.IssuedAt.Format(IssuedAtLayout))
	if h.ExpiresAt != nil {
		w.detail("Válido hasta:", h.ExpiresAt.Format(IssuedAtLayout))
	}
}

// verification prints the code and the QR that points at the public check.
func (w *pdfWriter) verification(opts PDFOptions, kind, code string) error {
	png, err := QRCode(opts.BaseURL, kind, code, 256)
	if err != nil {
		return err
	}
	w.section("Verificación")
	y := w.pdf.GetY()
	w.pdf.RegisterImageOptionsReader("qr", gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	w.pdf.ImageOptions("qr", 15, y, 35, 35, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	w.pdf.SetXY(55, y+8)
	w.pdf.SetFont("Arial", "B", 14)
	w.pdf.CellFormat(0, 8, w.tr("Código: "+code), "", 2, "L", false, 0, "")
	w.pdf.SetFont("Arial", "", 9)
	w.pdf.MultiCell(0, 5, w.tr(VerifyURL(opts.BaseURL, kind, code)), "", "L", false)
	w.pdf.SetY(y + 38)
	return nil
}

func (w *pdfWriter) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func RenderPrescription(p *Prescription, opts PDFOptions) ([]byte, error) {
	w := newPDF(opts, "RECETA MÉDICA")
	w.header(&p.Header)

	w.section("Diagnóstico")
	w.paragraph(p.Diagnosis)

	w.section("Medicamentos")
	for i, m := range p.Medications {
		w.pdf.SetFont("Arial", "B", 10)
		w.pdf.CellFormat(0, 7, w.tr(fmt.Sprintf("%d. %s %s", i+1, m.Name, m.Presentation)), "", 1, "L", false, 0, "")
		w.paragraph(strings.Join(nonEmpty(
			labeled("Dosis", m.Dose),
			labeled("Vía", m.Route),
			labeled("Frecuencia", m.Frequency),
			labeled("Duración", m.Duration),
			labeled("Cantidad", m.Quantity),
		), " | "))
		if m.Instructions != "" {
			w.paragraph("Instrucciones: " + m.Instructions)
		}
		w.pdf.Ln(1)
	}
	if p.Notes != "" {
		w.section("Observaciones")
		w.paragraph(p.Notes)
	}
	if p.Status != StatusActive {
		w.section("ANULADA")
		w.paragraph(p.VoidReason)
	}
	if err := w.verification(opts, KindPrescription, p.ValidationCode); err != nil {
		return nil, err
	}
	return w.bytes()
}

func RenderLabOrder(o *LabOrder, opts PDFOptions) ([]byte, error) {
	w := newPDF(opts, "ORDEN DE LABORATORIO")
	w.header(&o.Header)
	if o.Urgent {
		w.detail("Prioridad:", "URGENTE")
	}
	if o.FastingRequired {
		w.detail("Ayuno:", "Requerido")
	}

	w.section("Diagnóstico presuntivo")
	w.paragraph(o.PresumptiveDiagnosis)

	w.section("Exámenes")
	w.pdf.SetFont("Arial", "B", 10)
	w.pdf.SetFillColor(245, 245, 245)
	w.pdf.CellFormat(25, 7, w.tr("Código"), "1", 0, "L", true, 0, "")
	w.pdf.CellFormat(90, 7, w.tr("Examen"), "1", 0, "L", true, 0, "")
	w.pdf.CellFormat(0, 7, w.tr("Tipo"), "1", 1, "L", true, 0, "")
	w.pdf.SetFont("Arial", "", 10)
	for _, e := range o.Exams {
		w.pdf.CellFormat(25, 7, w.tr(e.Code), "1", 0, "L", false, 0, "")
		w.pdf.CellFormat(90, 7, w.tr(e.Name), "1", 0, "L", false, 0, "")
		w.pdf.CellFormat(0, 7, w.tr(e.Type), "1", 1, "L", false, 0, "")
		if e.Instructions != "" {
			w.paragraph("   " + e.Instructions)
		}
	}
	if o.GeneralInstructions != "" {
		w.section("Instrucciones generales")
		w.paragraph(o.GeneralInstructions)
	}
	if o.Status != StatusActive {
		w.section("ANULADA")
		w.paragraph(o.VoidReason)
	}
	if err := w.verification(opts, KindLabOrder, o.ValidationCode); err != nil {
		return nil, err
	}
	return w.bytes()
}

func labeled(label, value string) string {
	if value == "" {
		return ""
	}
	return label + ": " + value
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
