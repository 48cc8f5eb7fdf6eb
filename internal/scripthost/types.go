// Package scripthost embeds one gopher-lua interpreter per crawler
// worker and exposes the sws.* object model (Html, Select, ElemRef,
// Date, Record, ScrapingContext, CrawlingContext, Robot, Sitemap,
// Location, PageLocation) plus the scrapPage/acceptUrl invocation
// contract, grounded on the original Lua host's exact method and
// field naming.
package scripthost

import (
	"github.com/amosweiskopf/sws/internal/robot"
	"github.com/amosweiskopf/sws/internal/sitemap"
)

// LocationKind mirrors the sws.Location enum.
type LocationKind int

const (
	LocationURL LocationKind = iota
	LocationPath
)

func (k LocationKind) String() string {
	if k == LocationPath {
		return "PATH"
	}
	return "URL"
}

// PageLocation carries the origin of the Html passed to scrapPage.
type PageLocation struct {
	Kind  LocationKind
	Value string
}

// ScrapingContext is the Go-side value behind the ctx argument to
// scrapPage. SendRecord/SendURL are supplied by the orchestrator and
// flow into the CSV sink and URL queue respectively.
type ScrapingContext struct {
	Location   PageLocation
	WorkerID   int
	Robot      *robot.Robot
	SendRecord func(fields []string)
	SendURL    func(url string)
}

// CrawlingContext is the Go-side value behind the ctx argument to
// acceptUrl.
type CrawlingContext struct {
	Sitemap sitemap.Kind
	Robot   *robot.Robot
}
