// Package validation turns a raw registration submission into a normalized
// Registration. Field rules run first via struct tags, then the cross-field
// rule table.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"

	"int20h/internal/registration/models"
	pkgstrings "int20h/pkg/platform/strings"
)

// Mode controls how many violations are reported.
type Mode int

const (
	ModeCollectAll Mode = iota
	ModeFailFast
)

// ParseMode accepts "collect_all" (or empty) and "fail_fast".
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "collect_all", "collect-all":
		return ModeCollectAll, nil
	case "fail_fast", "fail-fast":
		return ModeFailFast, nil
	default:
		return ModeCollectAll, fmt.Errorf("unknown validation mode %q", raw)
	}
}

// SkillCatalog maps a free-form skill to its canonical spelling.
type SkillCatalog interface {
	Canonical(name string) (string, bool)
}

// ValidationError lists violations in evaluation order.
type ValidationError []models.FieldError

func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// First returns the first violated rule.
func (e ValidationError) First() models.FieldError {
	if len(e) == 0 {
		return models.FieldError{}
	}
	return e[0]
}

type Validator struct {
	validate *validator.Validate
	mode     Mode
	skills   SkillCatalog
}

type Option func(*Validator)

func WithMode(mode Mode) Option {
	return func(v *Validator) { v.mode = mode }
}

func WithSkillCatalog(catalog SkillCatalog) Option {
	return func(v *Validator) { v.skills = catalog }
}

func New(opts ...Option) *Validator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("phone", validatePhone)
	_ = validate.RegisterValidation("accepted", validateAccepted)

	v := &Validator{validate: validate, mode: ModeCollectAll}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks sub and returns the normalized registration. Rejections are
// *models.SubmissionError of kind FieldValidation wrapping a ValidationError.
func (v *Validator) Validate(sub models.Submission) (*models.Registration, error) {
	sanitize(&sub)

	violations := v.fieldViolations(&sub)
	if v.mode == ModeFailFast && len(violations) > 0 {
		return nil, reject(violations[:1])
	}
	for _, rule := range crossFieldRules {
		if !rule.violated(&sub) {
			continue
		}
		violations = append(violations, models.FieldError{Field: rule.field, Message: rule.message})
		if v.mode == ModeFailFast {
			break
		}
	}
	if len(violations) > 0 {
		return nil, reject(violations)
	}

	return v.normalize(&sub)
}

func reject(violations []models.FieldError) error {
	se := models.NewFieldValidation(violations)
	se.Err = ValidationError(violations)
	return se
}

func (v *Validator) fieldViolations(sub *models.Submission) []models.FieldError {
	err := v.validate.Struct(sub)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []models.FieldError{{Field: "submission", Message: err.Error()}}
	}
	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe.Field(), fe.Tag(), fe.Param()),
		})
	}
	return out
}

func (v *Validator) normalize(sub *models.Submission) (*models.Registration, error) {
	phone, err := normalizePhone(sub.Phone)
	if err != nil {
		return nil, reject([]models.FieldError{{Field: "phone", Message: fieldMessage("phone", "phone", "")}})
	}

	reg := &models.Registration{
		FullName:            sub.FullName,
		Email:               strings.ToLower(sub.Email),
		Telegram:            sub.Telegram,
		Phone:               phone,
		IsStudent:           *sub.IsStudent,
		UniversityID:        sub.UniversityID,
		CategoryID:          sub.CategoryID,
		Skills:              v.normalizeSkills(sub.Skills),
		Format:              models.ParticipationFormat(sub.Format),
		HasTeam:             *sub.HasTeam,
		TeamLeader:          *sub.TeamLeader,
		TeamName:            sub.TeamName,
		WantsJob:            *sub.WantsJob,
		JobDescription:      sub.JobDescription,
		CV:                  sub.CV,
		LinkedIn:            sub.LinkedIn,
		WorkConsent:         *sub.WorkConsent,
		Source:              sub.Source,
		PersonalDataConsent: *sub.PersonalDataConsent,
	}
	if sub.StudyYear != nil {
		year := models.StudyYear(*sub.StudyYear)
		reg.StudyYear = &year
	}
	if sub.OtherSource != nil {
		reg.OtherSource = *sub.OtherSource
	}
	if sub.Source == SourceOtherSocial {
		reg.Source = reg.OtherSource
	}
	if sub.Comment != nil {
		reg.Comment = *sub.Comment
	}
	if !reg.HasTeam {
		reg.TeamName = ""
		reg.TeamLeader = false
	}
	return reg, nil
}

func (v *Validator) normalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if v.skills != nil {
			if canonical, ok := v.skills.Canonical(s); ok {
				s = canonical
			}
		}
		out = append(out, s)
	}
	return pkgstrings.DedupeFold(out)
}

func normalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", errors.New("impossible phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validatePhone(fl validator.FieldLevel) bool {
	_, err := normalizePhone(fl.Field().String())
	return err == nil
}

func validateAccepted(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return false
		}
		field = field.Elem()
	}
	return field.Kind() == reflect.Bool && field.Bool()
}
