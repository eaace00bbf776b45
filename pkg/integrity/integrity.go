// Package integrity holds the invariant checks that guard every book and
// loan mutation. They are pure functions over already-loaded records so
// callers can run them inside the mutating transaction and abort it
// atomically on violation.
package integrity

import (
	"fmt"

	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/models"
)

// CheckBook verifies the copy-count invariant: both counters are
// non-negative and available never exceeds total.
func CheckBook(book *models.Book) error {
	if book.TotalCopies < 0 {
		return errcodes.ValidationError(`"total_copies" must be greater than or equal to 0`)
	}
	if book.AvailableCopies < 0 {
		return errcodes.ValidationError(`"available_copies" must be greater than or equal to 0`)
	}
	if book.AvailableCopies > book.TotalCopies {
		return errcodes.ValidationError(fmt.Sprintf(
			`"available_copies" (%d) can't exceed "total_copies" (%d)`,
			book.AvailableCopies, book.TotalCopies,
		))
	}
	return nil
}

// CheckLoan verifies loan date ordering and that the persisted status is
// one of the stored states. Overdue is derived and must never be written.
func CheckLoan(loan *models.Loan) error {
	switch loan.Status {
	case models.LoanStatusActive, models.LoanStatusReturned, models.LoanStatusLost:
	default:
		return errcodes.ValidationError(fmt.Sprintf("%q is not a storable loan status", loan.Status))
	}
	if loan.DueDate.Before(loan.LoanDate) {
		return errcodes.ValidationError(`"due_date" must be greater than or equal to "loan_date"`)
	}
	if loan.ReturnDate != nil && loan.ReturnDate.Before(loan.LoanDate) {
		return errcodes.ValidationError(`"return_date" must be greater than or equal to "loan_date"`)
	}
	if loan.Status == models.LoanStatusReturned && loan.ReturnDate == nil {
		return errcodes.ValidationError(`"return_date" is required for a returned loan`)
	}
	return nil
}
