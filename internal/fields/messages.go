package fields

import (
	"fmt"
	"strings"
)

type messageCatalog struct {
	email     string
	phone     string
	cep       string
	pattern   string
	lengthMin string // %d
	lengthMax string // %d
	length    string // %d %d
	oneOf     string // %s
	checkbox  string
}

var catalogs = map[Locale]messageCatalog{
	LocalePortuguese: {
		email:     "Endereço de e-mail inválido.",
		phone:     "Número de telefone inválido. Informe DDD e número.",
		cep:       "CEP inválido. Use o formato 00000-000.",
		pattern:   "Formato inválido.",
		lengthMin: "Informe pelo menos %d caracteres.",
		lengthMax: "Informe no máximo %d caracteres.",
		length:    "Informe entre %d e %d caracteres.",
		oneOf:     "Escolha uma das opções: %s.",
		checkbox:  "Responda sim ou não.",
	},
	LocaleKorean: {
		email:     "유효한 이메일 주소 형식이 아닙니다.",
		phone:     "유효한 전화번호 형식이 아닙니다.",
		cep:       "유효한 우편번호(CEP) 형식이 아닙니다.",
		pattern:   "형식이 올바르지 않습니다.",
		lengthMin: "최소 %d자 이상 입력해 주세요.",
		lengthMax: "최대 %d자까지 입력할 수 있습니다.",
		length:    "%d자 이상 %d자 이하로 입력해 주세요.",
		oneOf:     "다음 중 하나를 선택해 주세요: %s.",
		checkbox:  "예 또는 아니오로 답해 주세요.",
	},
	LocaleEnglish: {
		email:     "Invalid email address.",
		phone:     "Invalid phone number. Include the area code.",
		cep:       "Invalid postal code. Use the format 00000-000.",
		pattern:   "Invalid format.",
		lengthMin: "Enter at least %d characters.",
		lengthMax: "Enter at most %d characters.",
		length:    "Enter between %d and %d characters.",
		oneOf:     "Choose one of: %s.",
		checkbox:  "Answer yes or no.",
	},
}

func catalogFor(l Locale) messageCatalog {
	if c, ok := catalogs[l]; ok {
		return c
	}
	return catalogs[LocalePortuguese]
}

func (c messageCatalog) forRule(r Rule) string {
	switch r.Kind {
	case RuleEmail:
		return c.email
	case RulePhone:
		return c.phone
	case RuleCEP:
		return c.cep
	case RuleLength:
		switch {
		case r.Max == 0:
			return fmt.Sprintf(c.lengthMin, r.Min)
		case r.Min == 0:
			return fmt.Sprintf(c.lengthMax, r.Max)
		default:
			return fmt.Sprintf(c.length, r.Min, r.Max)
		}
	case RuleEnum:
		return fmt.Sprintf(c.oneOf, strings.Join(r.Values, ", "))
	default:
		return c.pattern
	}
}
