package service

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// InventoryService manages per-book copy counts.
type InventoryService interface {
	// RegisterBook adds a title with all copies on the shelf.
	RegisterBook(ctx context.Context, isbn, title string, copies int) (*model.Book, error)
	// AdjustAvailable applies a clamped delta to available copies.
	AdjustAvailable(ctx context.Context, bookID uuid.UUID, delta int) (*model.Book, error)
	// IncrementBorrowCount bumps popularity; failures are only logged.
	IncrementBorrowCount(ctx context.Context, bookID uuid.UUID)
}

type InventoryServiceImpl struct{ *core }

var _ InventoryService = (*InventoryServiceImpl)(nil)

// RegisterBook validates and stores a new title.
func (s *InventoryServiceImpl) RegisterBook(ctx context.Context, isbn, title string, copies int) (*model.Book, error) {
	isbn, title = strings.TrimSpace(isbn), strings.TrimSpace(title)
	if isbn == "" || title == "" {
		return nil, errs.New(errs.ErrValidation, "ISBN and title are required")
	}
	if copies < 0 {
		return nil, errs.New(errs.ErrValidation, "Copies must not be negative")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	b := &model.Book{ID: id, ISBN: isbn, Title: title, TotalCopies: copies, AvailableCopies: copies}
	err = s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		if err := tx.InsertBook(ctx, b); err != nil {
			return err
		}
		eff.Log(s.now(), "Book Added", "Added \""+title+"\" ("+isbn+")", model.SeverityInfo, uuid.Nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AdjustAvailable runs a standalone clamped adjustment. Freed copies are
// offered to the reservation queue.
func (s *InventoryServiceImpl) AdjustAvailable(ctx context.Context, bookID uuid.UUID, delta int) (*model.Book, error) {
	if bookID == uuid.Nil {
		return nil, errs.New(errs.ErrValidation, "Book id is required")
	}
	var out *model.Book
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		b, err := lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if b.AvailableCopies, err = tx.AdjustAvailable(ctx, bookID, delta); err != nil {
			return err
		}
		if delta > 0 {
			if err := s.promoteNext(ctx, tx, b, s.now(), eff); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementBorrowCount runs in its own transaction so a failure cannot undo
// the borrow that caused it.
func (s *InventoryServiceImpl) IncrementBorrowCount(ctx context.Context, bookID uuid.UUID) {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.IncrementBorrowCount(ctx, bookID)
	})
	if err != nil {
		s.log.Warn("increment borrow count failed", zap.String("book_id", bookID.String()), zap.Error(err))
	}
}
