package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

func TestWrapErrClassifiesPostgresErrors(t *testing.T) {
	if err := wrapErr("op", nil); err != nil {
		t.Fatalf("nil must stay nil, got %v", err)
	}
	if !repositories.IsNotFound(wrapErr("op", fmt.Errorf("scan: %w", pgx.ErrNoRows))) {
		t.Fatalf("expected no rows to map to not found")
	}
	for _, code := range []string{codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected, codeCheckViolation} {
		if !repositories.IsConflict(wrapErr("op", &pgconn.PgError{Code: code})) {
			t.Fatalf("expected %s to map to conflict", code)
		}
	}
	if repositories.IsConflict(wrapErr("op", &pgconn.PgError{Code: "42P01"})) {
		t.Fatalf("undefined table must not be a conflict")
	}
	if !errors.Is(wrapErr("op", context.DeadlineExceeded), context.DeadlineExceeded) {
		t.Fatalf("context errors must pass through")
	}
}

func TestWrapErrKeepsTypedErrors(t *testing.T) {
	invErr := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "p1", "short", nil)
	var got *repositories.InventoryError
	if !errors.As(wrapErr("op", invErr), &got) || got.ProductID != "p1" {
		t.Fatalf("expected inventory error to pass through")
	}

	notFound := repositories.NotFound("cart.save", "cart %q not found", "c1")
	if wrapErr("other", notFound) != notFound {
		t.Fatalf("expected repository errors to pass through unchanged")
	}
}
