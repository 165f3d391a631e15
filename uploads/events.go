package uploads

import "net/url"

var readyEventURL *url.URL

// parseReadyEventURL lazily parses ReadyEventScheme once; the address is a
// compile-time constant so failure here only ever indicates a programming
// error, never a runtime condition.
func parseReadyEventURL() (*url.URL, error) {
	if readyEventURL != nil {
		return readyEventURL, nil
	}
	u, err := url.Parse(ReadyEventScheme)
	if err != nil {
		return nil, err
	}
	readyEventURL = u
	return readyEventURL, nil
}
