package admission

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresUsageStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresUsageStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresUsageStore_Consume(t *testing.T) {
	query := regexp.QuoteMeta("INSERT INTO sticker_usage AS u")

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    bool
		wantErr bool
	}{
		{
			name: "admitted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WithArgs("a@c.us", "2024-05-10", 25).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
			},
			want: true,
		},
		{
			name: "limit reached returns no row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WithArgs("a@c.us", "2024-05-10", 25).
					WillReturnError(sql.ErrNoRows)
			},
			want: false,
		},
		{
			name: "database error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).
					WithArgs("a@c.us", "2024-05-10", 25).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			got, err := store.Consume(context.Background(), "a@c.us", "2024-05-10", 25)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to consume usage")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresUsageStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT identity, to_char(usage_date, 'YYYY-MM-DD') AS usage_date, count")).
		WithArgs("a@c.us").
		WillReturnRows(sqlmock.NewRows([]string{"identity", "usage_date", "count"}).
			AddRow("a@c.us", "2024-05-10", 7))

	rec, ok, err := store.Get(context.Background(), "a@c.us")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, UsageRecord{Identity: "a@c.us", Date: "2024-05-10", Count: 7}, rec)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT identity")).
		WithArgs("b@c.us").
		WillReturnRows(sqlmock.NewRows([]string{"identity", "usage_date", "count"}))

	_, ok, err = store.Get(context.Background(), "b@c.us")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUsageStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS sticker_usage")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
