package grpcserver

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

func TestWithPrincipal_And_PrincipalFromCtx(t *testing.T) {
	t.Parallel()

	if p := PrincipalFromCtx(context.Background()); p != nil {
		t.Fatalf("expected guest in empty ctx, got %+v", p)
	}

	want := &model.Principal{UserID: uuid.Must(uuid.NewV4()), Role: model.RoleStaff}
	got := PrincipalFromCtx(WithPrincipal(context.Background(), want))
	if got != want {
		t.Fatalf("mismatch: got %+v, want %+v", got, want)
	}

	bad := context.WithValue(context.Background(), principalKey, "not-a-principal")
	if p := PrincipalFromCtx(bad); p != nil {
		t.Fatalf("expected miss on wrong typed value")
	}
}
