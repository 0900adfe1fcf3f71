package signaling

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomnomnom/linkheader"
)

const (
	RelationLayer            = "urn:ietf:params:whep:ext:core:layer"
	RelationServerSentEvents = "urn:ietf:params:whep:ext:core:server-sent-events"
)

// parseLinks extracts the layer and event stream URLs of a WHEP answer.
func parseLinks(header http.Header, apiPath string) (layerURL, eventsURL string, err error) {
	values := header.Values("Link")
	if len(values) == 0 {
		return "", "", ErrMissingLinkHeader
	}

	links := linkheader.ParseMultiple(values)
	if len(links) == 0 {
		return "", "", ErrMissingLinkHeader
	}

	for _, relation := range []string{RelationLayer, RelationServerSentEvents} {
		matches := links.FilterByRel(relation)
		if len(matches) == 0 {
			return "", "", fmt.Errorf("%w: %s", ErrMissingLinkRelation, relation)
		}

		resolved := ResolveLinkURL(apiPath, matches[0].URL)
		if relation == RelationLayer {
			layerURL = resolved
		} else {
			eventsURL = resolved
		}
	}

	return layerURL, eventsURL, nil
}

// ResolveLinkURL turns a link target into an absolute URL. The server
// advertises targets as host/path without a scheme, those inherit the scheme
// of the API path.
func ResolveLinkURL(apiPath, target string) string {
	if strings.Contains(target, "://") {
		return target
	}

	base, err := url.Parse(apiPath)
	if err != nil || base.Scheme == "" {
		base = &url.URL{Scheme: "http"}
	}

	if strings.HasPrefix(target, "/") && base.Host != "" {
		return base.ResolveReference(&url.URL{Path: target}).String()
	}

	return base.Scheme + "://" + target
}
