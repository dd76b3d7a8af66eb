package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/pumpdrive/internal/profile"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// categoryInput is one category answer as accepted from callers.
type categoryInput struct {
	FreeText       string   `json:"free_text" validate:"max=4000"`
	FollowUpText   string   `json:"follow_up_text" validate:"max=4000"`
	SelectedTopics []string `json:"selected_topics" validate:"max=32,dive,max=200"`
}

type recommendRequest struct {
	Profile map[string]categoryInput `json:"profile" validate:"max=6,dive,keys,oneof=cost lifestyle algorithm easeToStart complexity support,endkeys"`
}

// toProfile validates req and converts it into a profile.
func (req recommendRequest) toProfile() (profile.Profile, error) {
	if err := getValidator().Struct(req); err != nil {
		return nil, describeValidation(err)
	}
	p := make(profile.Profile, len(req.Profile))
	for k, v := range req.Profile {
		p[profile.Category(k)] = profile.CategoryResponse{
			FreeText:       v.FreeText,
			FollowUpText:   v.FollowUpText,
			SelectedTopics: v.SelectedTopics,
		}
	}
	return p, nil
}

func describeValidation(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: unknown category %v (want one of %s)", fe.Namespace(), fe.Value(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s: exceeds maximum of %s", fe.Namespace(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
