package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) {
		t.Error("IsUniqueViolation: wrapped 23505 not recognized")
	}
	if IsForeignKeyViolation(unique) {
		t.Error("IsForeignKeyViolation: 23505 misclassified")
	}

	fk := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"})
	if !IsForeignKeyViolation(fk) {
		t.Error("IsForeignKeyViolation: wrapped 23503 not recognized")
	}
	if IsUniqueViolation(fk) {
		t.Error("IsUniqueViolation: 23503 misclassified")
	}

	if IsUniqueViolation(errors.New("plain")) || IsForeignKeyViolation(nil) {
		t.Error("non-pg errors misclassified")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Error("IsNoRows: wrapped ErrNoRows not recognized")
	}
	if IsNoRows(errors.New("boom")) {
		t.Error("IsNoRows: plain error misclassified")
	}
}
