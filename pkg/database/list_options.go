package database

import "gorm.io/gorm"

type ListOption interface {
	ApplyToList(*ListOptions)
}

type ListOptions struct {
	Pagination ListPagination
}

func (o *ListOptions) ApplyOptions(opts []ListOption) *ListOptions {
	for _, opt := range opts {
		opt.ApplyToList(o)
	}
	return o
}

func (o *ListOptions) scopes() []func(db *gorm.DB) *gorm.DB {
	return []func(db *gorm.DB) *gorm.DB{paginate(o)}
}

func Paginate(page, pageSize int) ListOption {
	return ListPagination{
		Page:     page,
		PageSize: pageSize,
	}
}

type ListPagination struct {
	Page, PageSize int
}

func (l ListPagination) ApplyToList(opts *ListOptions) {
	opts.Pagination = l
}

func paginate(opts *ListOptions) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		page, pageSize := opts.Pagination.Page, opts.Pagination.PageSize

		if page == 0 {
			page = 1
		}

		switch {
		case pageSize > 1000:
			pageSize = 1000
		case pageSize <= 0:
			pageSize = 100
		}

		offset := (page - 1) * pageSize
		return db.Offset(offset).Limit(pageSize)
	}
}
