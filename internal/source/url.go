package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ivlev/postersync/internal/poster"
)

// URL reads arbitrary HTTP resources, dated by their Last-Modified header.
type URL struct {
	Client *http.Client
}

func NewURL(client *http.Client) *URL {
	return &URL{Client: client}
}

func (u *URL) FetchTimestamp(ctx context.Context, d poster.Descriptor) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.URL, nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := httpDo(u.Client, req)
	if err != nil {
		return time.Time{}, err
	}
	_ = resp.Body.Close()

	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, errors.New("response has no Last-Modified header")
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse Last-Modified %q: %w", lm, err)
	}
	return t, nil
}

func (u *URL) FetchContent(ctx context.Context, d poster.Descriptor) ([]byte, error) {
	return httpGet(ctx, u.Client, d.URL, nil)
}
