package orchestrator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
)

const defaultMinScore = 0.3

var websiteKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("websitekey", func(fl validator.FieldLevel) bool {
		return websiteKeyRe.MatchString(fl.Field().String())
	})
	return v
}

// JobParams is the opaque input handed to the solver. Fields beyond the
// common ones only apply to RecaptchaV3Task.
type JobParams struct {
	WebsiteURL    string   `json:"website_url" validate:"required,http_url"`
	WebsiteKey    string   `json:"website_key" validate:"required,min=20,max=60,websitekey"`
	WebsiteDomain string   `json:"website_domain,omitempty" validate:"omitempty,max=253"`
	IsEnterprise  bool     `json:"is_enterprise,omitempty"`
	PageAction    string   `json:"page_action,omitempty" validate:"omitempty,max=100"`
	MinScore      *float64 `json:"min_score,omitempty" validate:"omitempty,gte=0.1,lte=0.9"`
}

// normalizeParams validates p for jobType and returns the stored JSON form.
func normalizeParams(jobType enums.JobType, p JobParams) (json.RawMessage, error) {
	p.WebsiteURL = strings.TrimSpace(p.WebsiteURL)
	p.WebsiteKey = strings.TrimSpace(p.WebsiteKey)
	p.WebsiteDomain = strings.TrimSpace(p.WebsiteDomain)

	if err := validate.Struct(p); err != nil {
		return nil, formatValidationErrors(err)
	}

	if jobType == enums.JobTypeRecaptchaV3 {
		if p.MinScore == nil {
			score := defaultMinScore
			p.MinScore = &score
		}
	} else {
		p.PageAction = ""
		p.MinScore = nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode job params")
	}
	return raw, nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job params")
	}
	details := map[string]string{}
	for _, fe := range errs {
		details[fe.Field()] = validationMessage(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid job params").WithDetails(details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "http_url":
		return "must be an absolute http(s) URL"
	case "websitekey":
		return "may only contain letters, digits, '_' and '-'"
	}
	return "is invalid"
}
