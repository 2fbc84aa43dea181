package documents

// Specialty names a medical specialty in French and Arabic.
type Specialty struct {
	ID         string
	NameFr     string
	NameFrLong string
	NameAr     string
}

const defaultSpecialty = "general"

var specialties = map[string]Specialty{
	"general":          {"general", "Médecine Générale", "Spécialiste en Médecine Générale", "أخصائي في الطب العام"},
	"orl":              {"orl", "ORL", "Spécialiste en Oto-Rhino-Laryngologie", "أخصائي في طب و جراحة الأذن، الأنف و الحنجرة"},
	"cardiology":       {"cardiology", "Cardiologie", "Spécialiste en Cardiologie et Maladies Vasculaires", "أخصائي في أمراض القلب والشرايين"},
	"dermatology":      {"dermatology", "Dermatologie", "Spécialiste en Dermatologie et Vénérologie", "أخصائي في الأمراض الجلدية والتناسلية"},
	"ophthalmology":    {"ophthalmology", "Ophtalmologie", "Spécialiste en Ophtalmologie", "أخصائي في طب وجراحة العيون"},
	"pediatrics":       {"pediatrics", "Pédiatrie", "Spécialiste en Pédiatrie", "أخصائي في طب الأطفال"},
	"gynecology":       {"gynecology", "Gynécologie", "Spécialiste en Gynécologie-Obstétrique", "أخصائي في أمراض النساء والتوليد"},
	"neurology":        {"neurology", "Neurologie", "Spécialiste en Neurologie", "أخصائي في طب الأعصاب"},
	"orthopedics":      {"orthopedics", "Orthopédie", "Spécialiste en Chirurgie Orthopédique et Traumatologique", "أخصائي في جراحة العظام والمفاصل"},
	"gastroenterology": {"gastroenterology", "Gastro-entérologie", "Spécialiste en Gastro-Entérologie et Hépatologie", "أخصائي في أمراض الجهاز الهضمي والكبد"},
	"pulmonology":      {"pulmonology", "Pneumologie", "Spécialiste en Pneumologie", "أخصائي في أمراض الرئة والجهاز التنفسي"},
	"urology":          {"urology", "Urologie", "Spécialiste en Urologie", "أخصائي في طب وجراحة المسالك البولية"},
	"psychiatry":       {"psychiatry", "Psychiatrie", "Spécialiste en Psychiatrie", "أخصائي في الطب النفسي"},
	"rheumatology":     {"rheumatology", "Rhumatologie", "Spécialiste en Rhumatologie", "أخصائي في أمراض المفاصل والروماتيزم"},
	"endocrinology":    {"endocrinology", "Endocrinologie", "Spécialiste en Endocrinologie, Diabétologie et Maladies Métaboliques", "أخصائي في أمراض الغدد الصماء والسكري"},
	"nephrology":       {"nephrology", "Néphrologie", "Spécialiste en Néphrologie", "أخصائي في أمراض الكلى"},
	"surgery":          {"surgery", "Chirurgie Générale", "Spécialiste en Chirurgie Générale", "أخصائي في الجراحة العامة"},
	"dentistry":        {"dentistry", "Médecine Dentaire", "Chirurgien Dentiste", "طبيب جراح الأسنان"},
	"radiology":        {"radiology", "Radiologie", "Spécialiste en Radiologie et Imagerie Médicale", "أخصائي في الأشعة التشخيصية"},
	"anesthesiology":   {"anesthesiology", "Anesthésie-Réanimation", "Spécialiste en Anesthésie-Réanimation", "أخصائي في التخدير والإنعاش"},
}

// LookupSpecialty returns the specialty for id, falling back to general medicine.
func LookupSpecialty(id string) Specialty {
	if s, ok := specialties[id]; ok {
		return s
	}
	return specialties[defaultSpecialty]
}
