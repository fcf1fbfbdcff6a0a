package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

func bookPath(bookId, suffix string) string {
	return "/api/books/" + bookId + suffix
}

func (c *Client) Book(ctx context.Context, bookId string) (types.Book, error) {
	var b types.Book
	err := c.do(ctx, http.MethodGet, bookPath(bookId, ""), nil, nil, &b)
	return b, err
}

func (c *Client) Pages(ctx context.Context, bookId string, offset, limit int) (types.PageBatch, error) {
	query := url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}

	var batch types.PageBatch
	err := c.do(ctx, http.MethodGet, bookPath(bookId, "/pages"), query, nil, &batch)
	return batch, err
}

func (c *Client) IngestionStatus(ctx context.Context, bookId string) (types.IngestionStatus, error) {
	var st types.IngestionStatus
	err := c.do(ctx, http.MethodGet, bookPath(bookId, "/status"), nil, nil, &st)
	return st, err
}

// History loads messages of a room or direct conversation sent before the
// given time. A zero time loads the most recent page.
func (c *Client) History(ctx context.Context, conversationKey string, before time.Time, limit int) (types.MessagePage, error) {
	var path string
	switch {
	case strings.HasPrefix(conversationKey, "book:"):
		path = bookPath(strings.TrimPrefix(conversationKey, "book:"), "/messages")
	default:
		if _, _, ok := protocol.Participants(conversationKey); !ok {
			return types.MessagePage{}, fmt.Errorf("unknown conversation key %q", conversationKey)
		}
		path = "/api/conversations/" + conversationKey + "/messages"
	}

	query := url.Values{}
	if !before.IsZero() {
		query.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page types.MessagePage
	err := c.do(ctx, http.MethodGet, path, query, nil, &page)
	return page, err
}
