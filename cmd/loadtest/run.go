package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// searchURL is the request for result page page of query.
func searchURL(opts options, query string, page int) string {
	q := url.Values{}
	q.Set("q", query)
	q.Set("low", strconv.Itoa(page*opts.Num))
	q.Set("num", strconv.Itoa(opts.Num))
	if opts.Index != "" {
		q.Set("index", opts.Index)
	}
	if opts.Mix != "" {
		q.Set("mix", opts.Mix)
	}
	if opts.Raw > 0 {
		q.Set("raw", strconv.Itoa(opts.Raw))
	}
	return opts.BaseURL + "/api/v1/search?" + q.Encode()
}

// run walks queries until opts.Duration passes or ctx ends. Worker w
// starts at query w so that workers spread over the query list.
func run(ctx context.Context, opts options) *recorder {
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: opts.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	var pace <-chan time.Time
	if opts.Rate > 0 {
		t := time.NewTicker(time.Second / time.Duration(opts.Rate))
		defer t.Stop()
		pace = t.C
	}

	rec := newRecorder(opts.Pages)
	g, ctx := errgroup.WithContext(ctx)
	for w := range opts.Concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i += opts.Concurrency {
				walk(ctx, client, opts, opts.Queries[i%len(opts.Queries)], pace, rec)
			}
			return nil
		})
	}
	_ = g.Wait()
	return rec
}

// walk requests successive pages of query until opts.Pages pages are
// read, the results run out or a request fails.
func walk(ctx context.Context, client *http.Client, opts options, query string, pace <-chan time.Time, rec *recorder) {
	for page := range opts.Pages {
		if pace != nil {
			select {
			case <-pace:
			case <-ctx.Done():
				return
			}
		}
		s := fetch(ctx, client, searchURL(opts, query, page))
		if ctx.Err() != nil {
			return
		}
		s.query, s.page = query, page
		rec.add(s)
		if s.err != nil || s.status != http.StatusOK || (page+1)*opts.Num >= s.totalRows {
			return
		}
	}
}

func fetch(ctx context.Context, client *http.Client, target string) sample {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return sample{err: err}
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()
	s := sample{status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body struct {
			TotalRows int `json:"total_rows"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			s.err = fmt.Errorf("decoding page: %w", err)
		}
		s.totalRows = body.TotalRows
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	s.latency = time.Since(start)
	return s
}
