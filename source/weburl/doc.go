// Package weburl fetches web pages for the enrichment queue.
//
// ValidateURL rejects URLs that could reach internal services: only HTTPS is
// allowed, and localhost, .local and .internal hosts and private or reserved
// IP literals are refused. The Fetcher repeats the IP check on every
// resolved address and on every redirect, so a public name that resolves to
// a private address is refused too.
//
// PageID derives a stable, subject-safe page id from a URL:
//
//	https://example.com/docs/guide -> page.web.example-com-docs-guide
//
// Usage:
//
//	f := weburl.NewFetcher(weburl.FetcherConfig{})
//	page, err := f.FetchPage(ctx, "https://example.com/docs/guide")
//	if err != nil {
//	    return err
//	}
//	_, err = store.AddPage(ctx, page)
package weburl
