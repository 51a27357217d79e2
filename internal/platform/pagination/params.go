// Package pagination reads offset paging and sorting parameters from list requests.
package pagination

import (
	"net/url"
	"strconv"
	"strings"
)

// Params are the raw paging values of a request. Zero means the client did not send the field.
type Params struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// FieldError reports one unparsable parameter.
type FieldError struct {
	Field   string
	Message string
}

// Errors collects every parameter that failed to parse.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "pagination: " + strings.Join(parts, "; ")
}

// Parse reads page, limit, sortBy and sortOrder. A leading "-" on sortBy selects descending order
// unless sortOrder is given explicitly. Range checks are left to the caller.
func Parse(values url.Values) (Params, error) {
	var (
		params Params
		errs   Errors
	)
	params.Page, errs = parseInt(values, "page", errs)
	params.Limit, errs = parseInt(values, "limit", errs)

	params.SortBy = strings.TrimSpace(values.Get("sortBy"))
	params.SortOrder = strings.ToLower(strings.TrimSpace(values.Get("sortOrder")))
	if strings.HasPrefix(params.SortBy, "-") {
		params.SortBy = strings.TrimPrefix(params.SortBy, "-")
		if params.SortOrder == "" {
			params.SortOrder = "desc"
		}
	}
	if len(errs) > 0 {
		return params, errs
	}
	return params, nil
}

func parseInt(values url.Values, field string, errs Errors) (int, Errors) {
	raw := strings.TrimSpace(values.Get(field))
	if raw == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, append(errs, FieldError{Field: field, Message: field + " must be an integer"})
	}
	if n <= 0 {
		return 0, append(errs, FieldError{Field: field, Message: field + " must be at least 1"})
	}
	return n, errs
}
