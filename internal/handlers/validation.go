package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/response"
	appValidator "github.com/charlesng35/softcenter/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	return validatePayload(c, dest)
}

func validatePayload(c *gin.Context, payload any) bool {
	if err := appValidator.ValidateStruct(payload); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}
	return true
}

// formatValidationError renders the first failing rule per field as a sentence, e.g.
// "Email is required" or "Free memory must not exceed total memory GB".
func formatValidationError(err error) string {
	var ve appValidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	seen := make(map[string]struct{}, len(ve))
	for _, failure := range ve {
		if _, dup := seen[failure.Field()]; dup {
			continue
		}
		seen[failure.Field()] = struct{}{}
		messages = append(messages, describeFailure(failure.Field(), failure.Tag(), failure.Param(), failure.Kind()))
	}
	return strings.Join(messages, "; ")
}

func describeFailure(field, tag, param string, kind reflect.Kind) string {
	name := humanizeField(field)
	numeric := kind >= reflect.Int && kind <= reflect.Float64

	switch tag {
	case "required":
		return name + " is required"
	case "email":
		return name + " must be a valid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.Join(strings.Fields(param), ", "))
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", name, lowerFirst(humanizeField(param)))
	case "min", "gte":
		if numeric {
			return fmt.Sprintf("%s must be at least %s", name, param)
		}
		return fmt.Sprintf("%s must be at least %s characters", name, param)
	case "max", "lte":
		if numeric {
			return fmt.Sprintf("%s must be at most %s", name, param)
		}
		return fmt.Sprintf("%s must be at most %s characters", name, param)
	}

	if param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", name, tag, param)
	}
	return fmt.Sprintf("%s failed validation: %s", name, tag)
}

// humanizeField turns a JSON or Go field name into sentence case: "newPassword" becomes
// "New password", "TotalMemoryGB" becomes "Total memory GB".
func humanizeField(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return "Field"
	}

	runes := []rune(name)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		switch {
		case cur == ' ':
			words = append(words, string(runes[start:i]))
			start = i + 1
		case unicode.IsUpper(cur) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)):
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))

	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if len(w) > 1 && strings.ToUpper(w) == w {
			out = append(out, w)
			continue
		}
		out = append(out, strings.ToLower(w))
	}
	if len(out) == 0 {
		return "Field"
	}

	first := []rune(out[0])
	first[0] = unicode.ToUpper(first[0])
	out[0] = string(first)
	return strings.Join(out, " ")
}

func lowerFirst(s string) string {
	runes := []rune(s)
	if len(runes) > 1 && unicode.IsUpper(runes[1]) {
		return s
	}
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
