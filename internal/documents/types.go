package documents

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CertificateType is the closed set of certificate layouts.
type CertificateType string

const (
	CertificateRepos      CertificateType = "repos"
	CertificateAptitude   CertificateType = "aptitude"
	CertificateBonneSante CertificateType = "bonne_sante"
	CertificateCustom     CertificateType = "custom"
)

// Kind maps unknown values to CertificateCustom.
func (t CertificateType) Kind() CertificateType {
	switch t {
	case CertificateRepos, CertificateAptitude, CertificateBonneSante, CertificateCustom:
		return t
	}
	return CertificateCustom
}

type certificateLabels struct {
	Fr string
	Ar string
}

func (t CertificateType) labels() certificateLabels {
	switch t.Kind() {
	case CertificateRepos:
		return certificateLabels{"Certificat de Repos Médical", "شهادة راحة طبية"}
	case CertificateAptitude:
		return certificateLabels{"Certificat d'Aptitude", "شهادة القدرة"}
	case CertificateBonneSante:
		return certificateLabels{"Certificat de Bonne Santé", "شهادة صحية"}
	default:
		return certificateLabels{"Certificat Médical", "شهادة طبية"}
	}
}

type Patient struct {
	Nom           string `json:"nom"`
	Prenom        string `json:"prenom"`
	DateNaissance string `json:"date_naissance"`
	Adresse       string `json:"adresse"`
}

type Certificate struct {
	ID         string          `json:"id"`
	Type       CertificateType `json:"type"`
	Date       string          `json:"date" validate:"required"`
	DureeJours int             `json:"duree_jours" validate:"gte=0,lte=3650"`
	DateDebut  string          `json:"date_debut"`
	DateFin    string          `json:"date_fin"`
	Motif      string          `json:"motif"`
	Contenu    string          `json:"contenu"`
	Patient    *Patient        `json:"patient"`
}

type CertificateSettings struct {
	DoctorName       string `json:"doctorName"`
	DoctorNameArabic string `json:"doctorNameArabic"`
	Specialty        string `json:"specialty"`
	CabinetName      string `json:"cabinetName"`
	CabinetAddress   string `json:"cabinetAddress"`
	CabinetPhone     string `json:"cabinetPhone"`
	CustomLogo       string `json:"customLogo"`
}

// CertificateRequest is the body of the certificate endpoint.
type CertificateRequest struct {
	Certificate *Certificate        `json:"certificate" validate:"required"`
	Settings    CertificateSettings `json:"settings"`
}

type PrescriptionItem struct {
	NomMedicament string `json:"nom_medicament" validate:"required"`
	Dosage        string `json:"dosage"`
	Posologie     string `json:"posologie"`
	Duree         string `json:"duree"`
	Instructions  string `json:"instructions"`
}

type Prescription struct {
	ID      string             `json:"id"`
	Date    string             `json:"date" validate:"required"`
	Notes   string             `json:"notes"`
	Items   []PrescriptionItem `json:"items" validate:"omitempty,dive"`
	Patient Patient            `json:"patient"`
}

type Cabinet struct {
	Name      string `json:"name"`
	Doctor    string `json:"doctor"`
	Specialty string `json:"specialty"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// PrescriptionRequest is the body of the prescription endpoint.
type PrescriptionRequest struct {
	Prescription *Prescription `json:"prescription" validate:"required"`
	Cabinet      Cabinet       `json:"cabinet"`
}

// ErrInvalidRequest wraps structural validation failures.
var ErrInvalidRequest = errors.New("documents: invalid request")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request structure. Business content is not validated.
func (r *CertificateRequest) Validate() error { return validateStruct(r) }

func (r *PrescriptionRequest) Validate() error { return validateStruct(r) }

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
