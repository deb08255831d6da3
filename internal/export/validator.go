package export

import "fmt"

// ValidationError rejects a request field. It is resolved at the API
// boundary and never reaches the background worker.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NormalizeCreate validates and defaults an export request's format and
// scope. A nil format defaults to json; a nil scope defaults to type all.
// It never partially accepts: the first offending field fails the call.
func NormalizeCreate(format *string, scope *Scope) (string, Scope, error) {
	normalizedFormat := FormatJSON
	if format != nil {
		switch *format {
		case FormatJSON, FormatCSV:
			normalizedFormat = *format
		default:
			return "", Scope{}, &ValidationError{Field: "format", Message: "must be one of: json, csv"}
		}
	}

	normalizedScope := Scope{Type: ScopeAll}
	if scope != nil {
		normalizedScope = *scope
		if normalizedScope.Type == "" {
			normalizedScope.Type = ScopeAll
		}
	}

	switch normalizedScope.Type {
	case ScopeAll:
		normalizedScope.StartDate = nil
		normalizedScope.EndDate = nil
		normalizedScope.DataTypes = nil

	case ScopeDateRange:
		if normalizedScope.StartDate != nil && normalizedScope.EndDate != nil &&
			normalizedScope.StartDate.After(*normalizedScope.EndDate) {
			return "", Scope{}, &ValidationError{Field: "scope.startDate", Message: "must not be after scope.endDate"}
		}
		normalizedScope.DataTypes = nil

	case ScopeSpecific:
		if len(normalizedScope.DataTypes) == 0 {
			return "", Scope{}, &ValidationError{Field: "scope.dataTypes", Message: "must be a non-empty list"}
		}
		for _, dt := range normalizedScope.DataTypes {
			if !validDataType(dt) {
				return "", Scope{}, &ValidationError{
					Field:   "scope.dataTypes",
					Message: fmt.Sprintf("unknown data type %q", dt),
				}
			}
		}
		normalizedScope.StartDate = nil
		normalizedScope.EndDate = nil

	default:
		return "", Scope{}, &ValidationError{Field: "scope.type", Message: "must be one of: all, dateRange, specific"}
	}

	return normalizedFormat, normalizedScope, nil
}

func validDataType(dt string) bool {
	for _, known := range DataTypes {
		if dt == known {
			return true
		}
	}
	return false
}
