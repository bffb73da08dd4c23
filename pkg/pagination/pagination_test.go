package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		page    int
		perPage int
		offset  int
	}{
		{"defaults", "", 1, DefaultPerPage, 0},
		{"custom", "?page=3&per_page=50", 3, 50, 100},
		{"negative page", "?page=-1", 1, DefaultPerPage, 0},
		{"zero page", "?page=0", 1, DefaultPerPage, 0},
		{"page not a number", "?page=abc", 1, DefaultPerPage, 0},
		{"size above max", "?per_page=500", 1, DefaultPerPage, 0},
		{"size zero", "?per_page=0", 1, DefaultPerPage, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromRequest(httptest.NewRequest(http.MethodGet, "/api/v1/toasts"+tt.query, nil))
			assert.Equal(t, tt.page, p.Page)
			assert.Equal(t, tt.perPage, p.PerPage)
			assert.Equal(t, tt.offset, p.Offset)
		})
	}
}

func TestPaginate(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}

	first := Paginate(all, Params{Page: 1, PerPage: 2, Offset: 0})
	assert.Equal(t, []int{1, 2}, first.Items)
	assert.Equal(t, 5, first.Total)
	assert.Equal(t, 3, first.TotalPages)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)

	last := Paginate(all, Params{Page: 3, PerPage: 2, Offset: 4})
	assert.Equal(t, []int{5}, last.Items)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrev)
}

func TestPaginate_PastTheEndIsEmpty(t *testing.T) {
	p := Paginate([]string{"a"}, Params{Page: 4, PerPage: 10, Offset: 30})

	assert.NotNil(t, p.Items)
	assert.Empty(t, p.Items)
	assert.Equal(t, 1, p.TotalPages)
}

func TestPaginate_EmptyList(t *testing.T) {
	p := Paginate([]string(nil), DefaultParams())

	assert.NotNil(t, p.Items)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasNext)
}

func TestPaginate_DoesNotAliasInput(t *testing.T) {
	all := []int{1, 2, 3}
	p := Paginate(all, DefaultParams())
	p.Items[0] = 99

	assert.Equal(t, 1, all[0])
}
