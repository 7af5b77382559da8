package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePage(t *testing.T) {
	p, err := ParsePage(httptest.NewRequest("GET", "/x", nil), 50, 200)
	require.NoError(t, err)
	require.Equal(t, Page{Number: 1, Limit: 50}, p)

	p, err = ParsePage(httptest.NewRequest("GET", "/x?page=3&per_page=20", nil), 50, 200)
	require.NoError(t, err)
	require.Equal(t, 40, p.Offset())

	p, err = ParsePage(httptest.NewRequest("GET", "/x?limit=1000", nil), 50, 200)
	require.NoError(t, err)
	require.Equal(t, 200, p.Limit)

	_, err = ParsePage(httptest.NewRequest("GET", "/x?page=0", nil), 50, 200)
	require.Error(t, err)
	_, err = ParsePage(httptest.NewRequest("GET", "/x?limit=ten", nil), 50, 200)
	require.Error(t, err)
}

func TestPaginate(t *testing.T) {
	rows, meta := Paginate(Page{Number: 1, Limit: 2}, []string{"a", "b", "c"})
	require.Equal(t, []string{"a", "b"}, rows)
	require.True(t, meta.HasMore)
	require.Equal(t, 2, meta.Returned)

	rows, meta = Paginate(Page{Number: 2, Limit: 2}, []string{"c"})
	require.Equal(t, []string{"c"}, rows)
	require.False(t, meta.HasMore)
}
