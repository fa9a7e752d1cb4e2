package history

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorVisitedURLs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT url").
		WithArgs("https://example.com", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).
			AddRow("https://example.com/a").
			AddRow("https://example.com/b"))

	urls, err := NewPGStore(mock).PriorVisitedURLs(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriorVisitedURLsEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT url").
		WithArgs("https://example.com", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"url"}))

	urls, err := NewPGStore(mock).PriorVisitedURLs(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestPriorVisitedURLsQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT url").
		WithArgs("https://example.com", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err = NewPGStore(mock).PriorVisitedURLs(context.Background(), "https://example.com")
	assert.Error(t, err)
}
