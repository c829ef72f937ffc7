package pending

import (
	"context"
	"testing"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/db"
	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

// TestSQLiteStore_survivesReopen verifies durability across restarts.
func TestSQLiteStore_survivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := db.OpenAndMigrate(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := NewSQLiteStore(first.DB).Save(ctx, models.FormData{"property_id": "lot-9"},
		&models.PhotoBlob{Data: []byte{1, 2, 3}, MimeType: "image/jpeg"})
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := db.OpenAndMigrate(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	got, err := NewSQLiteStore(second.DB).Get(ctx, id)
	if err != nil {
		t.Fatalf("record lost after reopen: %v", err)
	}
	if got.FormData["property_id"] != "lot-9" || got.Photo.Size() != 3 {
		t.Errorf("unexpected record after reopen: %+v", got)
	}
}

// TestSQLiteStore_storageFault verifies faults carry STORAGE_FAULT.
func TestSQLiteStore_storageFault(t *testing.T) {
	database, err := db.OpenAndMigrate(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewSQLiteStore(database.DB)
	database.Close()

	ctx := context.Background()
	if _, err := s.Save(ctx, models.FormData{}, nil); !apperrors.Is(err, apperrors.ErrStorageFault) {
		t.Errorf("Save on closed db = %v, want STORAGE_FAULT", err)
	}
	if _, err := s.ListPending(ctx); !apperrors.Is(err, apperrors.ErrStorageFault) {
		t.Errorf("ListPending on closed db = %v, want STORAGE_FAULT", err)
	}
	if err := s.Remove(ctx, "x"); !apperrors.Is(err, apperrors.ErrStorageFault) {
		t.Errorf("Remove on closed db = %v, want STORAGE_FAULT", err)
	}
}
