package apiclient

import "strings"

// MediaURL resolves a product image path against the media host. Absolute
// URLs pass through unchanged.
func (c *Client) MediaURL(path string) string {
	switch {
	case path == "":
		return ""
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"), strings.HasPrefix(path, "data:"):
		return path
	}

	path = "/" + strings.TrimPrefix(path, "/")
	if !strings.HasPrefix(path, "/media/") {
		path = "/media" + path
	}
	return c.mediaBaseURL + path
}

// mediaBaseFromAPI derives the media host from the API base URL by dropping
// a trailing /api segment.
func mediaBaseFromAPI(baseURL string) string {
	return strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/api")
}
