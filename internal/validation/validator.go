package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator. Errors name fields by their json
// tag, "notblank" rejects whitespace-only strings, and ChatMessage gets
// struct-level checks for the fields each type needs.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	v.RegisterStructValidation(chatMessageStructValidation, ChatMessage{})

	return v
}

// chatMessageStructValidation requires productKey on start and utterance
// on turn frames.
func chatMessageStructValidation(sl validatorv10.StructLevel) {
	msg := sl.Current().Interface().(ChatMessage)

	switch msg.Type {
	case "start":
		if strings.TrimSpace(msg.ProductKey) == "" {
			sl.ReportError(msg.ProductKey, "productKey", "ProductKey", "required_for_start", "")
		}
	case "turn":
		if strings.TrimSpace(msg.Utterance) == "" {
			sl.ReportError(msg.Utterance, "utterance", "Utterance", "required_for_turn", "")
		}
	}
}
