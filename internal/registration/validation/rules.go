package validation

import (
	"net/url"

	"int20h/internal/registration/models"
)

// crossFieldRule is one inter-field constraint. violated is evaluated against
// a trimmed submission and must not assume required fields are set.
type crossFieldRule struct {
	field    string
	message  string
	violated func(s *models.Submission) bool
}

var crossFieldRules = []crossFieldRule{
	{
		field:   "work_consent",
		message: "Consent is required to share your CV or LinkedIn",
		violated: func(s *models.Submission) bool {
			return (s.CV != "" || s.LinkedIn != "") && !isTrue(s.WorkConsent)
		},
	},
	{
		field:   "cv",
		message: "Please provide a link to your CV",
		violated: func(s *models.Submission) bool {
			return isTrue(s.WantsJob) && s.CV == ""
		},
	},
	{
		field:   "cv",
		message: "CV link must start with http:// or https://",
		violated: func(s *models.Submission) bool {
			return s.CV != "" && !isHTTPURL(s.CV)
		},
	},
	{
		field:   "linkedin",
		message: "LinkedIn link must start with http:// or https://",
		violated: func(s *models.Submission) bool {
			return s.LinkedIn != "" && !isHTTPURL(s.LinkedIn)
		},
	},
	{
		field:   "otherSource",
		message: "Please specify the source",
		violated: func(s *models.Submission) bool {
			return (s.Source == SourceOther || s.Source == SourceOtherSocial) && isBlank(s.OtherSource)
		},
	},
	{
		field:   "team_name",
		message: "Team name is required when you have a team",
		violated: func(s *models.Submission) bool {
			return isTrue(s.HasTeam) && s.TeamName == ""
		},
	},
	{
		field:   "university_id",
		message: "Please specify your university",
		violated: func(s *models.Submission) bool {
			return isTrue(s.IsStudent) && s.UniversityID == nil
		},
	},
	{
		field:   "study_year",
		message: "Please specify your year of study",
		violated: func(s *models.Submission) bool {
			return isTrue(s.IsStudent) && s.StudyYear == nil
		},
	},
}

const (
	SourceOther       = "other"
	SourceOtherSocial = "otherSocial"
)

func isTrue(b *bool) bool { return b != nil && *b }

func isBlank(s *string) bool { return s == nil || *s == "" }

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
