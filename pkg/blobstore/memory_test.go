package blobstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStoreUploadIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	meta := Metadata{
		AttachmentID:   uuid.New(),
		OrganizationID: uuid.New(),
		FileName:       "invoice.pdf",
		MimeType:       "application/pdf",
	}

	first, err := store.Upload(context.Background(), []byte("v1"), meta)
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	second, err := store.Upload(context.Background(), []byte("v1"), meta)
	if err != nil {
		t.Fatalf("retried Upload() error: %v", err)
	}

	if first != second {
		t.Fatalf("retried upload produced a different key: %q vs %q", first, second)
	}
	if store.Len() != 1 {
		t.Fatalf("retried upload must overwrite, got %d objects", store.Len())
	}

	exists, err := store.Exists(context.Background(), first)
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v", exists, err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	key, err := store.Upload(context.Background(), []byte("data"), Metadata{
		AttachmentID:   uuid.New(),
		OrganizationID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := store.Delete(context.Background(), key); err != ErrNotFound {
		t.Fatalf("second Delete() = %v, want ErrNotFound", err)
	}

	exists, err := store.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Fatal("object must be gone after delete")
	}
}

func TestMemoryStoreDropSimulatesDrift(t *testing.T) {
	store := NewMemoryStore()
	key, _ := store.Upload(context.Background(), []byte("data"), Metadata{
		AttachmentID:   uuid.New(),
		OrganizationID: uuid.New(),
	})

	store.Drop(key)

	exists, err := store.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Fatal("dropped object must read as missing")
	}
}

func TestObjectKeyDeterministic(t *testing.T) {
	meta := Metadata{AttachmentID: uuid.New(), OrganizationID: uuid.New()}
	if ObjectKey(meta) != ObjectKey(meta) {
		t.Fatal("object key must be stable for the same metadata")
	}

	other := Metadata{AttachmentID: uuid.New(), OrganizationID: meta.OrganizationID}
	if ObjectKey(meta) == ObjectKey(other) {
		t.Fatal("different attachments must map to different keys")
	}
}
