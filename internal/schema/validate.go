package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Ошибки валидации запроса. Тексты уходят клиенту как есть.
var (
	ErrMissingBody     = errors.New("Missing body")
	ErrInvalidJSON     = errors.New("Invalid JSON")
	ErrMissingQuestion = errors.New("Missing question")
	ErrInvalidImage    = errors.New("Invalid image")
	ErrInvalidRequest  = errors.New("Invalid request")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("imagedata", func(fl validator.FieldLevel) bool {
		return IsImageData(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// dataURLHeadLimit — дальше этого смещения ";base64," в заголовке data URL не ищем.
const dataURLHeadLimit = 256

// IsImageData проверяет картинку за один проход без регулярок: data URL с ";base64," в заголовке
// либо сырой base64 (стандартный или URL-алфавит), где допустимы переносы строк и отсутствие паддинга.
func IsImageData(s string) bool {
	if strings.HasPrefix(s, "data:") {
		head := s[:min(len(s), dataURLHeadLimit)]
		i := strings.Index(head, ";base64,")
		return i > len("data:") && i+len(";base64,") < len(s)
	}
	n := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '+', c == '/', c == '-', c == '_':
			n++
		case c == '=', c == ' ', c == '\n', c == '\r', c == '\t':
		default:
			return false
		}
	}
	return n > 0
}

// Validate проверяет запрос на границе, до любой бизнес-логики.
func (r *AnalyzeRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch {
		case fe.Tag() == "required_without":
			return ErrMissingQuestion
		case fe.Field() == "Image":
			return ErrInvalidImage
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, verrs[0].Namespace())
}

// IsInvalidRequest сообщает, относится ли ошибка к классу InvalidRequest (ответ 4xx).
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrMissingBody) ||
		errors.Is(err, ErrInvalidJSON) ||
		errors.Is(err, ErrMissingQuestion) ||
		errors.Is(err, ErrInvalidImage) ||
		errors.Is(err, ErrInvalidRequest)
}
