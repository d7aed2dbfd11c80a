package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"radoncore/internal/blob/core"
)

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	info, err := store.Put(ctx, "certificates/c1.pdf", strings.NewReader("document body"), core.PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"certificate_id": "c1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("document body")) || info.ContentType != "application/pdf" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := store.Put(ctx, "certificates/c1.pdf", strings.NewReader("other"), core.PutOptions{}); err == nil {
		t.Fatalf("put must be create-only")
	}

	got, rc, err := store.Get(ctx, "certificates/c1.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "document body" {
		t.Fatalf("body %q", body)
	}
	if got.Metadata["certificate_id"] != "c1" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	head, err := store.Head(ctx, "certificates/c1.pdf")
	if err != nil || head.Size != info.Size {
		t.Fatalf("head: %+v %v", head, err)
	}

	existed, err := store.Delete(ctx, "certificates/c1.pdf")
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	existed, err = store.Delete(ctx, "certificates/c1.pdf")
	if err != nil || existed {
		t.Fatalf("second delete should report absence")
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"certificates/c1.pdf", "certificates/c2.pdf", "reports/r1.pdf"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "certificates/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "certificates/c1.pdf" || infos[1].Key != "certificates/c2.pdf" {
		t.Fatalf("unexpected listing %+v", infos)
	}
}

func TestPresignUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
