package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestNilMinioStore(t *testing.T) {
	var s *MinioStore
	if _, _, err := s.Get(context.Background(), "b", "k"); err == nil {
		t.Fatalf("expected error from nil store Get")
	}
	if _, err := s.Stat(context.Background(), "b", "k"); err == nil {
		t.Fatalf("expected error from nil store Stat")
	}
	if _, err := NewMinioStoreWithClient(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestMapError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if err := mapError("objects", "a.tif", missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mapError() err=%v, want ErrNotFound", err)
	}
	denied := minio.ErrorResponse{Code: "AccessDenied"}
	if err := mapError("objects", "a.tif", denied); errors.Is(err, ErrNotFound) {
		t.Fatalf("access denied must not map to ErrNotFound")
	}
}
