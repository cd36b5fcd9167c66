package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"unitools/market-api/internal/model"

	"gorm.io/gorm"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

var (
	ErrInvalidPage  = errors.New("page must be a positive number")
	ErrInvalidLimit = fmt.Errorf("limit must be a number between 1 and %d", MaxPageLimit)
	ErrInvalidSort  = errors.New("invalid sorting option")

	validSortOpts = []string{"none", "asc", "price_asc", "desc", "price_desc"}

	likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// ListingQuery selects one page of published listings
type ListingQuery struct {
	Page   int
	Limit  int
	Sort   string
	Search string
}

// ParseListingQuery reads page, limit, sort and search through get, which
// returns the raw value or the given default
func ParseListingQuery(get func(key, def string) string) (*ListingQuery, error) {
	page, err := strconv.Atoi(get("page", "1"))
	if err != nil || page < 1 {
		return nil, ErrInvalidPage
	}

	limit, err := strconv.Atoi(get("limit", strconv.Itoa(DefaultPageLimit)))
	if err != nil || limit < 1 || limit > MaxPageLimit {
		return nil, ErrInvalidLimit
	}

	sort := strings.ToLower(get("sort", "none"))
	if sort == "" {
		sort = "none"
	}

	if !slices.Contains(validSortOpts, sort) {
		return nil, ErrInvalidSort
	}

	return &ListingQuery{
		Page:   page,
		Limit:  limit,
		Sort:   sort,
		Search: strings.TrimSpace(get("search", "")),
	}, nil
}

func (q *ListingQuery) order() string {
	switch q.Sort {
	case "asc", "price_asc":
		return "price asc, seq desc"
	case "desc", "price_desc":
		return "price desc, seq desc"
	default:
		return "seq desc"
	}
}

// TotalPages is the number of pages needed for total results
func (q *ListingQuery) TotalPages(total int64) int {
	return int(math.Ceil(float64(total) / float64(q.Limit)))
}

// FindListings returns the requested page of published listings of kind and
// the number of published listings matching the search overall
func FindListings(ctx context.Context, db *gorm.DB, kind string, q *ListingQuery) ([]model.Listing, int64, error) {
	scope := func() *gorm.DB {
		tx := db.WithContext(ctx).
			Model(&model.Listing{}).
			Where("kind = ? AND published = ?", kind, true)

		if q.Search != "" {
			pattern := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
			tx = tx.Where(`LOWER(item_name) LIKE ? ESCAPE '\'`, pattern)
		}

		return tx
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count listings, %w", err)
	}

	listings := []model.Listing{}

	err := scope().
		Order(q.order()).
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&listings).
		Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query listings, %w", err)
	}

	return listings, total, nil
}

// FindPublished returns one published listing of kind
func FindPublished(ctx context.Context, db *gorm.DB, kind, id string) (*model.Listing, error) {
	var l model.Listing

	err := db.WithContext(ctx).
		Where("listing_id = ? AND kind = ? AND published = ?", id, kind, true).
		First(&l).
		Error
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// ImagePublished reports whether key belongs to a published listing
func ImagePublished(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	var listings []model.Listing

	err := db.WithContext(ctx).
		Select("images").
		Where(`published = ? AND images LIKE ? ESCAPE '\'`, true, "%"+likeEscaper.Replace(key)+"%").
		Find(&listings).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to look up image owner, %w", err)
	}

	for _, l := range listings {
		if slices.Contains(l.Images, key) {
			return true, nil
		}
	}

	return false, nil
}
