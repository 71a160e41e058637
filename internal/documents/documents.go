package documents

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
)

const (
	dateLayout = "02/01/2006"
	pageLeft   = 20.0
	pageWidth  = 170.0
	rowHeight  = 9.0
)

var issuer = []string{
	"Electruc SA",
	"Avenue des Services 100",
	"1000 Bruxelles - Belgique",
	"TVA BE0123.456.789",
}

var moneyPrinter = message.NewPrinter(language.MustParse("fr-BE"))

// Money formats an amount in cents the Belgian French way, e.g. "80,50 EUR".
func Money(cents int64) string {
	s := moneyPrinter.Sprint(number.Decimal(float64(cents)/100, number.Scale(2)))
	s = strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(s)
	return s + " EUR"
}

// InvoiceSplit breaks a total into the subscription, energy and taxes lines
// printed on invoices. Taxes absorb the rounding remainder.
func InvoiceSplit(totalCents int64) (subscription, energy, taxes int64) {
	subscription = roundPercent(totalCents, 40)
	energy = roundPercent(totalCents, 50)
	taxes = totalCents - subscription - energy
	return subscription, energy, taxes
}

func roundPercent(cents, pct int64) int64 {
	return (cents*pct + 50) / 100
}

type page struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newPage(title string) *page {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageLeft, 15, pageLeft)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetCreator("Electruc Portal", true)
	pdf.SetTitle(title, true)

	p := &page{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	p.header(title)
	return p
}

func (p *page) header(title string) {
	pdf := p.pdf
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(pageLeft, 20, "Electruc")

	for i, line := range issuer {
		if i == 0 {
			pdf.SetFont("Helvetica", "B", 10)
		} else {
			pdf.SetFont("Helvetica", "", 9)
		}
		pdf.SetXY(pageLeft+pageWidth-80, 10+float64(i)*5)
		pdf.CellFormat(80, 5, p.tr(line), "", 0, "R", false, 0, "")
	}

	pdf.SetDrawColor(217, 224, 230)
	pdf.Line(pageLeft, 32, pageLeft+pageWidth, 32)

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetXY(pageLeft, 36)
	pdf.CellFormat(pageWidth, 8, p.tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

// box draws a framed block of lines with a bold heading.
func (p *page) box(x, y, w float64, heading string, lines []string) {
	pdf := p.pdf
	pdf.SetDrawColor(222, 230, 235)
	pdf.Rect(x, y, w, 32, "D")

	pdf.SetXY(x+3, y+3)
	if heading != "" {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(w-6, 5, p.tr(heading), "", 2, "L", false, 0, "")
	}
	pdf.SetFont("Helvetica", "", 9)
	for _, line := range lines {
		pdf.CellFormat(w-6, 5, p.tr(line), "", 2, "L", false, 0, "")
	}
}

// table draws a two-column table with a shaded header row.
func (p *page) table(left, right string, rows [][2]string) {
	pdf := p.pdf
	pdf.SetFillColor(242, 247, 250)
	pdf.SetDrawColor(222, 230, 235)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(pageWidth/2, rowHeight, p.tr(left), "1", 0, "L", true, 0, "")
	pdf.CellFormat(pageWidth/2, rowHeight, p.tr(right), "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		pdf.CellFormat(pageWidth/2, rowHeight, p.tr(row[0]), "1", 0, "L", false, 0, "")
		pdf.CellFormat(pageWidth/2, rowHeight, p.tr(row[1]), "1", 1, "R", false, 0, "")
	}
}

func (p *page) paragraph(text string) {
	p.pdf.SetFont("Helvetica", "", 10)
	p.pdf.MultiCell(pageWidth, 5, p.tr(text), "", "L", false)
	p.pdf.Ln(2)
}

func (p *page) heading(text string) {
	p.pdf.SetFont("Helvetica", "B", 11)
	p.pdf.CellFormat(pageWidth, 7, p.tr(text), "", 1, "L", false, 0, "")
}

func (p *page) footer(lines ...string) {
	p.pdf.SetFont("Helvetica", "", 8)
	for i, line := range lines {
		p.pdf.Text(pageLeft, 277+float64(i)*5, p.tr(line))
	}
}

func (p *page) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// LetterData is the content of an invitation letter.
type LetterData struct {
	MeterPoint      *models.MeterPoint
	Code            string
	ExpiresAt       time.Time
	RegistrationURL string
}

// Letter renders the invitation letter sent by post to a meter point holder.
func Letter(data LetterData) ([]byte, error) {
	mp := data.MeterPoint
	if mp == nil {
		return nil, fmt.Errorf("letter: missing meter point")
	}

	p := newPage("Invitation à créer votre espace client")

	holder := []string{mp.HolderName(), strings.TrimSpace(mp.AddressLine1 + " " + mp.AddressLine2)}
	holder = append(holder, strings.TrimSpace(mp.PostalCode+" "+mp.City))
	p.box(pageLeft+pageWidth-80, 50, 80, "", holder)
	p.pdf.SetY(90)

	p.paragraph(fmt.Sprintf("Madame, Monsieur %s,", mp.HolderLastName))
	p.paragraph("Electruc vous invite à créer votre espace client en ligne. " +
		"Vous y retrouverez votre contrat, vos factures et l'historique de vos relevés.")

	p.table("Élément", "Valeur", [][2]string{
		{"Code EAN", mp.EAN},
		{"Code d'activation unique", secretcode.Group(data.Code)},
		{"Valable jusqu'au", data.ExpiresAt.Format(dateLayout)},
	})
	p.pdf.Ln(4)

	p.paragraph(fmt.Sprintf("Rendez-vous sur %s et saisissez votre code EAN ainsi que le code ci-dessus.", data.RegistrationURL))
	p.paragraph("Ce code est personnel et ne peut être utilisé qu'une seule fois. " +
		"Après plusieurs essais erronés, la saisie est bloquée pendant 15 minutes.")

	p.footer("Electruc ne vous demandera jamais ce code par téléphone ou par e-mail.")
	return p.bytes()
}

// InvoiceData is the content of an invoice document.
type InvoiceData struct {
	Invoice *models.Invoice
	Client  []string
}

// Invoice renders a customer invoice.
func Invoice(data InvoiceData) ([]byte, error) {
	inv := data.Invoice
	if inv == nil {
		return nil, fmt.Errorf("invoice: missing invoice")
	}

	p := newPage("Facture " + inv.Reference)
	p.box(pageLeft, 50, 80, "Facturée à", firstN(data.Client, 4))
	p.box(pageLeft+90, 50, 80, "", []string{
		"Référence: " + inv.Reference,
		"Date d'émission: " + inv.IssueDate.Format(dateLayout),
		"Période: " + inv.PeriodStart.Format(dateLayout),
		"au " + inv.PeriodEnd.Format(dateLayout),
		"Statut: " + inv.StatusLabel(),
	})
	p.pdf.SetY(92)

	subscription, energy, taxes := InvoiceSplit(inv.AmountCents)
	p.table("Description", "Montant", [][2]string{
		{"Abonnement mensuel", Money(subscription)},
		{"Consommation énergie", Money(energy)},
		{"Taxes et contributions", Money(taxes)},
	})

	p.pdf.Ln(3)
	p.pdf.SetFont("Helvetica", "B", 10)
	p.pdf.SetX(pageLeft + pageWidth/2)
	p.pdf.CellFormat(pageWidth/4, rowHeight, "Total TTC", "", 0, "L", false, 0, "")
	p.pdf.CellFormat(pageWidth/4, rowHeight, p.tr(Money(inv.AmountCents)), "", 1, "R", false, 0, "")

	p.footer("Paiement à 15 jours date de facture. Merci de votre confiance.")
	return p.bytes()
}

// ContractData is the content of a contract summary.
type ContractData struct {
	Contract *models.Contract
	Holder   []string
	EAN      string
}

// Contract renders the contract summary of a client.
func Contract(data ContractData) ([]byte, error) {
	c := data.Contract
	if c == nil {
		return nil, fmt.Errorf("contract: missing contract")
	}
	ean := data.EAN
	if ean == "" {
		ean = "-"
	}

	p := newPage("Contrat d'énergie")
	p.box(pageLeft, 50, 80, "Titulaire du contrat", firstN(data.Holder, 4))
	p.box(pageLeft+90, 50, 80, "", []string{
		"Référence: " + c.Reference,
		"Date de début: " + c.StartDate.Format(dateLayout),
		"Offre: " + c.PlanName,
		"Statut: " + contractStatusLabel(c.Status),
		"EAN: " + ean,
	})
	p.pdf.SetY(92)

	p.heading("Résumé des conditions")
	p.paragraph("Adresse de fourniture: " + c.SupplyAddress)
	p.paragraph("Facturation: mensuelle, paiement à 15 jours.")
	p.paragraph("Durée: contrat à durée indéterminée, résiliation possible selon CGV.")
	p.paragraph("Support client: disponible via l'espace client et formulaire de contact.")
	p.pdf.Ln(2)

	p.table("Élément", "Valeur", [][2]string{
		{"Type d'offre", c.PlanName},
		{"Fréquence de relevé", "Mensuelle"},
		{"Canal de facturation", "Portail client"},
		{"Référence point de fourniture", ean},
	})

	p.footer("Conditions générales disponibles dans l'espace client.")
	return p.bytes()
}

func contractStatusLabel(status string) string {
	switch status {
	case models.ContractSuspended:
		return "Suspendu"
	case models.ContractClosed:
		return "Clôturé"
	default:
		return "Actif"
	}
}

var termsSections = [][2]string{
	{"1. Objet", "Les présentes CGV définissent les conditions de fourniture d'énergie pour les clients particuliers."},
	{"2. Contrat", "Le contrat prend effet à la date indiquée sur le document contractuel et reste en vigueur selon les modalités prévues."},
	{"3. Prix et facturation", "La facturation est mensuelle. Le détail des montants est accessible depuis l'espace client."},
	{"4. Paiement", "Le paiement est exigible à l'échéance indiquée sur la facture. Des frais peuvent s'appliquer en cas de retard."},
	{"5. Relevés et consommation", "Le client transmet ses relevés via le portail; Electruc peut estimer la consommation en l'absence de relevé."},
	{"6. Service client", "Les demandes sont traitées via l'espace client, par e-mail ou formulaire de contact."},
	{"7. Données personnelles", "Les données sont traitées conformément à la réglementation en vigueur et à la politique de confidentialité."},
	{"8. Droit applicable", "Le contrat est soumis au droit belge. Les tribunaux compétents sont ceux du ressort du siège social."},
}

// Terms renders the general terms and conditions.
func Terms() ([]byte, error) {
	p := newPage("Conditions générales de vente")
	for _, section := range termsSections {
		p.heading(section[0])
		p.paragraph(section[1])
	}
	p.footer("Version pédagogique - Electruc Portal.")
	return p.bytes()
}

// DirectDebitForm renders the blank SEPA mandate a client prints, signs and
// uploads with a direct debit request.
func DirectDebitForm() ([]byte, error) {
	p := newPage("Mandat de domiciliation SEPA")
	p.paragraph("Complétez les champs, puis enregistrez et transmettez le document signé.")

	field := func(label string) {
		p.pdf.SetFont("Helvetica", "", 9)
		p.pdf.CellFormat(45, rowHeight, p.tr(label), "", 0, "L", false, 0, "")
		p.pdf.CellFormat(pageWidth-45, rowHeight, "", "B", 1, "L", false, 0, "")
	}

	p.heading("Informations du titulaire")
	field("Nom et prénom")
	field("Adresse")
	field("Code postal / Ville")
	p.pdf.Ln(4)

	p.heading("Coordonnées bancaires")
	field("IBAN")
	field("BIC")
	p.pdf.Ln(4)

	p.heading("Mandat")
	p.paragraph("J'autorise Electruc SA à prélever les montants dus sur le compte indiqué.")
	p.paragraph("Ce mandat reste valable jusqu'à révocation explicite du titulaire.")
	p.pdf.Ln(4)

	field("Date")
	field("Lieu")
	field("Signature")

	p.footer("Document à renvoyer via l'espace client, rubrique domiciliation.")
	return p.bytes()
}

func firstN(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}
