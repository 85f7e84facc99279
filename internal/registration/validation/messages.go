package validation

import "fmt"

type messageKey struct {
	field string
	tag   string
}

var fieldMessages = map[messageKey]string{
	{"full_name", "min"}:                  "Full name must be at least 2 characters",
	{"full_name", "max"}:                  "Full name must be at most 100 characters",
	{"email", "required"}:                 "Email is required",
	{"email", "email"}:                    "Email address is invalid",
	{"telegram", "min"}:                   "Telegram handle is required",
	{"phone", "required"}:                 "Phone number is required",
	{"phone", "phone"}:                    "Phone number is invalid",
	{"is_student", "required"}:            "Specify whether you are a student",
	{"university_id", "gt"}:               "University is invalid",
	{"study_year", "min"}:                 "Study year must be between 1 and 7",
	{"study_year", "max"}:                 "Study year must be between 1 and 7",
	{"category_id", "required"}:           "Category is required",
	{"category_id", "gt"}:                 "Category is invalid",
	{"skills", "required"}:                "Skills are required",
	{"format", "required"}:                "Participation format is required",
	{"format", "oneof"}:                   "Participation format must be online or offline",
	{"has_team", "required"}:              "Specify whether you have a team",
	{"team_leader", "required"}:           "Specify whether you are the team leader",
	{"wants_job", "required"}:             "Specify whether you are looking for a job",
	{"work_consent", "required"}:          "Specify whether you consent to sharing your CV",
	{"source", "min"}:                     "Tell us how you heard about the event",
	{"personal_data_consent", "required"}: "Consent to personal data processing is required",
	{"personal_data_consent", "accepted"}: "Consent to personal data processing is required",
}

// fieldMessage falls back to a generic message built from the tag.
func fieldMessage(field, tag, param string) string {
	if msg, ok := fieldMessages[messageKey{field, tag}]; ok {
		return msg
	}
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
