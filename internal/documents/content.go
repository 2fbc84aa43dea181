package documents

import (
	"strconv"
	"strings"
)

// Segment is a run of text, optionally bold.
type Segment struct {
	Text string
	Bold bool
}

// Paragraph is one block of body text shared by the HTML and PDF renderers.
type Paragraph struct {
	Segments []Segment
	Small    bool
	// Lines is set for free-form content; line breaks are preserved.
	Lines []string
}

func text(s string) Segment { return Segment{Text: s} }
func bold(s string) Segment { return Segment{Text: s, Bold: true} }

const (
	defaultCustomContent = "Contenu du certificat personnalisé"
	defaultAptitudeGoal  = "la pratique sportive"
	defaultPlace         = "notre cabinet"
)

// certificateDoc is the resolved view of a certificate.
type certificateDoc struct {
	Title        string
	TitleAr      string
	DoctorName   string
	DoctorNameAr string
	Specialty    Specialty
	Paragraphs   []Paragraph
	Place        string
	Date         string
	CabinetName  string
	Address      string
	Phone        string
}

func patientName(p *Patient) string {
	if p == nil {
		return "PATIENT"
	}
	return strings.ToUpper(strings.TrimSpace(p.Prenom + " " + p.Nom))
}

func signaturePlace(address string) string {
	if first := strings.TrimSpace(strings.Split(address, ",")[0]); first != "" {
		return first
	}
	return defaultPlace
}

// restEnd returns the inclusive end date of a rest period.
func restEnd(start string, days int) string {
	t, ok := parseDate(start)
	if !ok || days < 1 {
		return ""
	}
	return formatFR(t.AddDate(0, 0, days-1))
}

func buildCertificate(c *Certificate, s CertificateSettings) certificateDoc {
	labels := c.Type.labels()
	spec := LookupSpecialty(s.Specialty)
	name := patientName(c.Patient)
	var birth, address string
	if c.Patient != nil {
		if c.Patient.DateNaissance != "" {
			birth = FormatDateFR(c.Patient.DateNaissance)
		}
		address = strings.TrimSpace(c.Patient.Adresse)
	}
	date := FormatDateFR(c.Date)

	intro := func(honorific bool, withAddress bool) Paragraph {
		segs := []Segment{
			text("Je soussigné, "), bold(s.DoctorName), text(", " + spec.NameFrLong + ", certifie avoir examiné ce jour "),
		}
		if honorific {
			segs = append(segs, text("M./Mme "))
		}
		segs = append(segs, bold(name))
		if birth != "" {
			segs = append(segs, text(", né(e) le "+birth))
		}
		if withAddress && address != "" {
			segs = append(segs, text(", demeurant à "+address))
		}
		segs = append(segs, text("."))
		return Paragraph{Segments: segs}
	}

	var paragraphs []Paragraph
	switch c.Type.Kind() {
	case CertificateRepos:
		from := date
		startRaw := c.Date
		if c.DateDebut != "" {
			from = FormatDateFR(c.DateDebut)
			startRaw = c.DateDebut
		}
		var to string
		if c.DateFin != "" {
			to = FormatDateFR(c.DateFin)
		} else {
			to = restEnd(startRaw, c.DureeJours)
		}
		unit := " jour"
		if c.DureeJours > 1 {
			unit = " jours"
		}
		rest := Paragraph{Segments: []Segment{
			text("L'état de santé de l'intéressé(e) nécessite un repos médical de "),
			bold(strconv.Itoa(c.DureeJours) + unit),
			text(", du "), bold(from),
		}}
		if to != "" {
			rest.Segments = append(rest.Segments, text(" au "), bold(to), text(" inclus."))
		} else {
			rest.Segments = append(rest.Segments, text("."))
		}
		paragraphs = append(paragraphs, intro(birth != "", false), rest)
		if m := strings.TrimSpace(c.Motif); m != "" {
			paragraphs = append(paragraphs, Paragraph{Segments: []Segment{text("Motif : " + m)}, Small: true})
		}
	case CertificateAptitude:
		goal := strings.TrimSpace(c.Motif)
		if goal == "" {
			goal = defaultAptitudeGoal
		}
		paragraphs = append(paragraphs,
			intro(true, false),
			Paragraph{Segments: []Segment{
				text("Après examen clinique complet, je certifie que l'intéressé(e) est "),
				bold("apte"), text(" à " + goal + "."),
			}},
			Paragraph{Segments: []Segment{
				text("Ce certificat est valable pour une durée d'un an à compter de sa date d'établissement."),
			}, Small: true},
		)
	case CertificateBonneSante:
		paragraphs = append(paragraphs,
			intro(true, true),
			Paragraph{Segments: []Segment{
				text("L'examen clinique de ce jour ne révèle aucune anomalie apparente. L'intéressé(e) est en "),
				bold("bonne santé apparente"), text("."),
			}},
		)
	default:
		content := c.Contenu
		if strings.TrimSpace(content) == "" {
			content = defaultCustomContent
		}
		paragraphs = append(paragraphs, Paragraph{Lines: strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")})
	}

	return certificateDoc{
		Title:        labels.Fr,
		TitleAr:      labels.Ar,
		DoctorName:   s.DoctorName,
		DoctorNameAr: s.DoctorNameArabic,
		Specialty:    spec,
		Paragraphs:   paragraphs,
		Place:        signaturePlace(s.CabinetAddress),
		Date:         date,
		CabinetName:  s.CabinetName,
		Address:      s.CabinetAddress,
		Phone:        s.CabinetPhone,
	}
}

type prescriptionLine struct {
	Index int
	PrescriptionItem
}

// prescriptionDoc is the resolved view of a prescription.
type prescriptionDoc struct {
	Cabinet     Cabinet
	PatientName string
	BirthInfo   string
	Date        string
	Items       []prescriptionLine
	Notes       string
	Validity    string
}

const prescriptionValidity = "Cette ordonnance est valable 3 mois à compter de sa date d'émission"

func buildPrescription(p *Prescription, c Cabinet) prescriptionDoc {
	doc := prescriptionDoc{
		Cabinet:     c,
		PatientName: strings.TrimSpace(p.Patient.Prenom + " " + p.Patient.Nom),
		Date:        FormatDateFR(p.Date),
		Notes:       strings.TrimSpace(p.Notes),
		Validity:    prescriptionValidity,
	}
	if p.Patient.DateNaissance != "" {
		doc.BirthInfo = "Né(e) le " + FormatDateFR(p.Patient.DateNaissance)
	}
	for i, item := range p.Items {
		doc.Items = append(doc.Items, prescriptionLine{Index: i + 1, PrescriptionItem: item})
	}
	return doc
}
