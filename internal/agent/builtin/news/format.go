package news

import "finwatch/internal/storage"

// FormatItem renders one stored item as a plain text block:
//
//	Title: ...
//	Description: ...
//	URL: ...
//	Source: ...
//	Published: ...
func FormatItem(item storage.NewsItem) string {
	return "Title: " + item.Title + "\n" +
		"Description: " + item.Description + "\n" +
		"URL: " + item.URL + "\n" +
		"Source: " + item.Source + "\n" +
		"Published: " + item.PublishedAt
}
