package integrity

import (
	"testing"
	"time"

	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		total     int
		available int
		wantErr   bool
	}{
		{name: "available below total", total: 5, available: 3},
		{name: "available equals total", total: 5, available: 5},
		{name: "zero copies", total: 0, available: 0},
		{name: "available exceeds total", total: 2, available: 3, wantErr: true},
		{name: "negative available", total: 2, available: -1, wantErr: true},
		{name: "negative total", total: -1, available: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBook(&models.Book{
				TotalCopies:     tt.total,
				AvailableCopies: tt.available,
			})
			if tt.wantErr {
				require.Error(t, err)
				var ce *errcodes.Error
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "validation_error", ce.Code)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckLoan(t *testing.T) {
	t.Parallel()

	loanDate := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dueDate := loanDate.AddDate(0, 0, 21)
	early := loanDate.AddDate(0, 0, -1)

	t.Run("valid active loan", func(t *testing.T) {
		err := CheckLoan(&models.Loan{
			Status:   models.LoanStatusActive,
			LoanDate: loanDate,
			DueDate:  dueDate,
		})
		require.NoError(t, err)
	})

	t.Run("due before loan", func(t *testing.T) {
		err := CheckLoan(&models.Loan{
			Status:   models.LoanStatusActive,
			LoanDate: loanDate,
			DueDate:  early,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "due_date")
	})

	t.Run("return before loan", func(t *testing.T) {
		err := CheckLoan(&models.Loan{
			Status:     models.LoanStatusReturned,
			LoanDate:   loanDate,
			DueDate:    dueDate,
			ReturnDate: &early,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "return_date")
	})

	t.Run("returned without return date", func(t *testing.T) {
		err := CheckLoan(&models.Loan{
			Status:   models.LoanStatusReturned,
			LoanDate: loanDate,
			DueDate:  dueDate,
		})
		require.Error(t, err)
	})

	t.Run("derived overdue status is not storable", func(t *testing.T) {
		err := CheckLoan(&models.Loan{
			Status:   models.LoanStatusOverdue,
			LoanDate: loanDate,
			DueDate:  dueDate,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a storable")
	})
}
