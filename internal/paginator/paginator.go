package paginator

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type PaginatedResponse[T any] struct {
	Items       []T  `json:"items"`
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	PrevPage    *int `json:"prev_page"`
	NextPage    *int `json:"next_page"`
	TotalItems  int  `json:"total_items"`
}

type Paginator[T any] struct {
	db *sqlx.DB
}

func New[T any](db *sqlx.DB) *Paginator[T] {
	return &Paginator[T]{db: db}
}

// PaginateQuery wraps an arbitrary SELECT in a count subquery plus
// LIMIT/OFFSET. The query must not already carry LIMIT or OFFSET.
func (p *Paginator[T]) PaginateQuery(ctx context.Context, query string, args []any, page, limit int) (*PaginatedResponse[T], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS total_count", query)
	var totalItems int
	if err := p.db.GetContext(ctx, &totalItems, countQuery, args...); err != nil {
		return nil, err
	}

	totalPages := (totalItems + limit - 1) / limit

	paginatedQuery := fmt.Sprintf("%s LIMIT $%d OFFSET $%d", query, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var items []T
	if err := p.db.SelectContext(ctx, &items, paginatedQuery, args...); err != nil {
		return nil, err
	}

	var prevPage, nextPage *int
	if page > 1 {
		v := page - 1
		prevPage = &v
	}
	if page < totalPages {
		v := page + 1
		nextPage = &v
	}

	return &PaginatedResponse[T]{
		Items:       items,
		CurrentPage: page,
		TotalPages:  totalPages,
		PrevPage:    prevPage,
		NextPage:    nextPage,
		TotalItems:  totalItems,
	}, nil
}
