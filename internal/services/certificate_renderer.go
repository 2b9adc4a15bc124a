// internal/services/certificate_renderer.go
package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

type CertificateData struct {
	CooperativeName string
	RegistrationNo  string
	Address         string
	IssuedAt        time.Time
}

type CertificateRenderer interface {
	Render(data CertificateData) ([]byte, error)
}

// PDFCertificateRenderer draws a single landscape A4 page with a verification QR code.
type PDFCertificateRenderer struct {
	IssuerName string
	VerifyURL  string
}

func NewPDFCertificateRenderer(issuerName, verifyURL string) *PDFCertificateRenderer {
	return &PDFCertificateRenderer{
		IssuerName: issuerName,
		VerifyURL:  strings.TrimRight(verifyURL, "/"),
	}
}

func (r *PDFCertificateRenderer) VerificationLink(registrationNo string) string {
	return fmt.Sprintf("%s/%s", r.VerifyURL, registrationNo)
}

func (r *PDFCertificateRenderer) Render(data CertificateData) ([]byte, error) {
	qrPng, err := qrcode.Encode(r.VerificationLink(data.RegistrationNo), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, pageHeight := pdf.GetPageSize()

	pdf.SetLineWidth(1.5)
	pdf.SetDrawColor(0, 102, 51)
	pdf.Rect(10, 10, pageWidth-20, pageHeight-20, "D")
	pdf.SetLineWidth(0.4)
	pdf.Rect(14, 14, pageWidth-28, pageHeight-28, "D")

	pdf.SetTextColor(0, 102, 51)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(20, 28)
	pdf.CellFormat(pageWidth-40, 10, tr(strings.ToUpper(r.IssuerName)), "", 1, "C", false, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 16)
	pdf.SetX(20)
	pdf.CellFormat(pageWidth-40, 10, "Certificate of Registration", "", 1, "C", false, 0, "")

	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetX(20)
	pdf.CellFormat(pageWidth-40, 8, "This is to certify that", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetX(20)
	pdf.MultiCell(pageWidth-40, 12, tr(data.CooperativeName), "", "C", false)

	if data.Address != "" {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.SetX(20)
		pdf.MultiCell(pageWidth-40, 6, tr(data.Address), "", "C", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetX(20)
	pdf.CellFormat(pageWidth-40, 8, "has been duly registered as a cooperative society with registration number", "", 1, "C", false, 0, "")

	pdf.SetFont("Courier", "B", 20)
	pdf.SetX(20)
	pdf.CellFormat(pageWidth-40, 12, data.RegistrationNo, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetXY(25, pageHeight-40)
	pdf.CellFormat(120, 6, "Date of issue: "+data.IssuedAt.UTC().Format("2 January 2006"), "", 1, "L", false, 0, "")
	pdf.SetX(25)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(160, 6, "Verify at "+r.VerificationLink(data.RegistrationNo), "", 1, "L", false, 0, "")

	imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("verify_qr", imgOptions, bytes.NewReader(qrPng))
	const qrSize = 35.0
	pdf.ImageOptions("verify_qr", pageWidth-25-qrSize, pageHeight-25-qrSize, qrSize, qrSize, false, imgOptions, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write certificate PDF: %w", err)
	}

	return buf.Bytes(), nil
}
