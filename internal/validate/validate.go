package validate

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"
)

var (
	reEmail = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reID    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	reKey   = regexp.MustCompile(`^[A-Za-z0-9_.:-]{8,128}$`)
)

var (
	once sync.Once
	v    *validatorv10.Validate
)

// Validator returns the shared validator with the custom tags registered.
func Validator() *validatorv10.Validate {
	once.Do(func() {
		v = validatorv10.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("resid", func(fl validatorv10.FieldLevel) bool {
			_, ok := ID(fl.Field().String())
			return ok
		})
		_ = v.RegisterValidation("idemkey", func(fl validatorv10.FieldLevel) bool {
			return IdempotencyKey(fl.Field().String())
		})
	})
	return v
}

// Struct validates s and flattens failures into field -> tag.
func Struct(s any) (map[string]string, error) {
	err := Validator().Struct(s)
	if err == nil {
		return nil, nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"_": err.Error()}, err
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out, fmt.Errorf("validation failed: %v", out)
}

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 120 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// ID validates a simple resource identifier (product/order/payment ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Name validates a displayable name with a reasonable max length.
func Name(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 80 {
		return "", false
	}
	return s, true
}

func IdempotencyKey(s string) bool { return reKey.MatchString(s) }

// CallbackURL accepts absolute http(s) URLs that live under base.
func CallbackURL(raw, base string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil || b.Scheme != u.Scheme || b.Host != u.Host {
			return nil, false
		}
	}
	return u, true
}

// Password enforces the login format window.
func Password(s string) bool {
	l := len(s)
	if l < 8 || l > 64 {
		return false
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z':
			hasLower = true
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case '0' <= r && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	return hasLower && hasUpper && hasDigit && hasSymbol
}
