package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/crawl"
)

// PageRequest identifies one page of a listing. Offset/Limit drive
// offset-paged APIs (Jira, Confluence); Token drives token-paged ones
// (Drive).
type PageRequest struct {
	Offset int
	Limit  int
	Token  string
}

// Page is one page of results together with the source's exhaustion signal.
// A source sets Total (with TotalSet), or HasMore (with HasMoreSet), or
// NextToken, or none of them — in which case the driver continues until an
// empty page comes back.
type Page[T any] struct {
	Items      []T
	Total      int
	TotalSet   bool
	HasMore    bool
	HasMoreSet bool
	NextToken  string
}

// PageFunc fetches one page.
type PageFunc[T any] func(ctx context.Context, req PageRequest) (Page[T], error)

// CollectPages drives fetch to exhaustion and returns every item. The loop
// never stops on an iteration count: it ends only when the declared total is
// satisfied, the source says there is no more, or a page comes back empty.
// Undercounting pages silently drops data, so when the source declares
// neither a total nor a has-more flag the driver keeps going until an empty
// page and logs a warning about the ambiguous contract.
func CollectPages[T any](ctx context.Context, pageSize int, fetch PageFunc[T], logger *zap.Logger) ([]T, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		items     []T
		offset    int
		token     string
		warned    bool
		usedToken bool
	)
	for {
		page, err := fetch(ctx, PageRequest{Offset: offset, Limit: pageSize, Token: token})
		if err != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		items = append(items, page.Items...)
		offset += len(page.Items)

		switch {
		case len(page.Items) == 0:
			return items, nil
		case page.TotalSet:
			if offset >= page.Total {
				return items, nil
			}
		case page.HasMoreSet:
			if !page.HasMore {
				return items, nil
			}
		case page.NextToken != "":
			token = page.NextToken
			usedToken = true
		case usedToken:
			// Token-paged source returned items with no next token:
			// that is its exhaustion signal.
			return items, nil
		default:
			if !warned {
				logger.Warn("paged response declares neither total nor has-more; continuing until an empty page",
					zap.Int("offset", offset),
				)
				warned = true
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// RefsOf converts ids into refs for one source, dropping empties.
func RefsOf(source crawl.SourceType, ids []string) []crawl.NodeRef {
	refs := make([]crawl.NodeRef, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		refs = append(refs, crawl.NodeRef{Source: source, ID: id})
	}
	return refs
}
