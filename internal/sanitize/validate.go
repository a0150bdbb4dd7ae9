package sanitize

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

type validatorSvc struct {
	v     *validator.Validate
	trans ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// validate returns the shared validator, built on first use with english
// messages keyed by query parameter names.
func validate() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("query")
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterTranslation("min", trans,
			func(ut ut.Translator) error {
				return ut.Add("min", "{0} must be at least {1}", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("min", fe.Field(), fe.Param())
				return msg
			},
		)

		_ = v.RegisterTranslation("max", trans,
			func(ut ut.Translator) error {
				return ut.Add("max", "{0} must be at most {1}", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("max", fe.Field(), fe.Param())
				return msg
			},
		)

		vSvc = &validatorSvc{v: v, trans: trans}
	})
	return vSvc
}

// behavior holds the scalar parameters checked by struct tags.
type behavior struct {
	Compression string   `query:"compression" validate:"omitempty,oneof=minimal none"`
	MostRecent  *int     `query:"mostrecent" validate:"omitnil,min=1"`
	Page        *int     `query:"page" validate:"omitnil,min=0,max=1000000"`
	Radius      *float64 `query:"radius" validate:"omitnil,gt=0"`
}

// check validates b and returns the first failure as a readable sentence.
func (s *validatorSvc) check(b behavior) string {
	err := s.v.Struct(b)
	if err == nil {
		return ""
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			return fe.Translate(s.trans)
		}
	}
	return strings.TrimSpace(err.Error())
}
