package sync

import (
	"fmt"
	"strings"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

// Validator checks a submission before any remote call. A returned error
// should be terminal; the record is quarantined instead of retried.
type Validator func(models.FormData) error

// RequireFields rejects submissions missing any of the given keys. A nil
// value or a blank string counts as missing.
func RequireFields(fields ...string) Validator {
	return func(data models.FormData) error {
		var missing []string
		for _, f := range fields {
			v, ok := data[f]
			if !ok || v == nil {
				missing = append(missing, f)
				continue
			}
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return apperrors.NewTerminal(apperrors.ErrMalformedRecord,
				fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", ")))
		}
		return nil
	}
}

// AllOf combines validators; the first failure wins.
func AllOf(validators ...Validator) Validator {
	return func(data models.FormData) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(data); err != nil {
				return err
			}
		}
		return nil
	}
}
