package retrieve

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Tamillat/wget/pkg/types"
)

// LoadItems reads an ordered URL list from the file at source. With isHTML
// the file is parsed as an HTML document and anchor targets are collected,
// resolved against a <base href> when one is present; otherwise the file is
// read as one URL per line, with blank lines and #-comments skipped.
func LoadItems(source string, isHTML bool) ([]types.Item, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isHTML {
		return itemsFromHTML(f)
	}
	return itemsFromList(f)
}

func itemsFromList(f *os.File) ([]types.Item, error) {
	var items []types.Item
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, types.Item{URL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan url list: %w", err)
	}
	return items, nil
}

func itemsFromHTML(f *os.File) ([]types.Item, error) {
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var base *url.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if parsed, perr := url.Parse(strings.TrimSpace(href)); perr == nil && parsed.IsAbs() {
			base = parsed
		}
	}

	seen := make(map[string]struct{})
	var items []types.Item
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}

		target, perr := url.Parse(href)
		if perr != nil {
			return
		}
		if base != nil {
			target = base.ResolveReference(target)
		}
		// Without a document base there is nothing to resolve relative
		// references against.
		if !target.IsAbs() {
			return
		}
		target.Fragment = ""

		key := target.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		item := types.Item{URL: key}
		if base != nil {
			item.Referrer = base.String()
		}
		items = append(items, item)
	})
	return items, nil
}
