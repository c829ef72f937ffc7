package sync

import (
	"testing"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

func TestRequireFields(t *testing.T) {
	v := RequireFields("property_id", "quadra_id")

	tests := []struct {
		name    string
		data    models.FormData
		wantErr bool
	}{
		{"all present", models.FormData{"property_id": "p", "quadra_id": 3.0}, false},
		{"missing key", models.FormData{"property_id": "p"}, true},
		{"nil value", models.FormData{"property_id": nil, "quadra_id": "q"}, true},
		{"blank string", models.FormData{"property_id": "  ", "quadra_id": "q"}, true},
		{"zero number is present", models.FormData{"property_id": 0.0, "quadra_id": false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !apperrors.Is(err, apperrors.ErrMalformedRecord) {
					t.Errorf("code = %s, want MALFORMED_RECORD", apperrors.CodeOf(err))
				}
				if !apperrors.IsTerminal(err) {
					t.Error("validation errors must be terminal")
				}
			}
		})
	}
}

func TestAllOf(t *testing.T) {
	v := AllOf(nil, RequireFields("a"), RequireFields("b"))

	if err := v(models.FormData{"a": 1.0, "b": 2.0}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := v(models.FormData{"a": 1.0})
	if err == nil || !apperrors.Is(err, apperrors.ErrMalformedRecord) {
		t.Errorf("err = %v, want MALFORMED_RECORD for b", err)
	}
}
