package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/records-service/internal/domain"
)

func TestPgSearchRecordRepository_UpdateDerivedRecords(t *testing.T) {
	ctx := context.Background()
	code := "S-002-3"
	fields := domain.DerivedFields{
		ControlNumber:  &code,
		Type:           domain.DocumentTypeOutgoing,
		Classification: "Finance",
	}

	t.Run("upserts the derived fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectExec("INSERT INTO search_records .* ON CONFLICT \\(document_id\\) DO UPDATE SET").
			WithArgs(id, testTenant, &code, "Outgoing", "Finance", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPgSearchRecordRepository(mock).UpdateDerivedRecords(ctx, testTenant, id, fields))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validates identifiers", func(t *testing.T) {
		repo := NewPgSearchRecordRepository(nil)
		assert.ErrorIs(t, repo.UpdateDerivedRecords(ctx, "", uuid.New(), fields), domain.ErrInvalidInput)
		assert.ErrorIs(t, repo.UpdateDerivedRecords(ctx, testTenant, uuid.Nil, fields), domain.ErrInvalidInput)
	})

	t.Run("wraps errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO search_records").
			WithArgs(anyArgs(6)...).
			WillReturnError(errors.New("relation does not exist"))

		err = NewPgSearchRecordRepository(mock).UpdateDerivedRecords(ctx, testTenant, uuid.New(), fields)
		assert.ErrorContains(t, err, "failed to update search record")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
