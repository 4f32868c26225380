package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "geo_units", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audience", "geo_units"}, []string{"geo_id", "score"}).WillReturnResult(3)

	rows := [][]any{{"GU-1", 10.5}, {"GU-2", 0.0}, {"GU-3", 99.0}}
	n, err := CopyFrom(context.Background(), mock, "audience.geo_units", []string{"geo_id", "score"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"geo_units"}, []string{"geo_id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "geo_units", []string{"geo_id"}, [][]any{{"GU-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO geo_units")
	assert.NoError(t, mock.ExpectationsWereMet())
}
