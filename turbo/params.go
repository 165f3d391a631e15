package turbo

import (
	"fmt"
	"net/http"
	"strconv"
)

// GetPathParam reads a path variable captured by the router's route
// matching out of the request context. It mirrors Router.GetPathParams but
// needs no Router receiver, matching the package-level helper style used
// at the call site.
func GetPathParam(name string, r *http.Request) (string, error) {
	params, ok := r.Context().Value("params").([]Param)
	if !ok {
		return "", fmt.Errorf("no path params present on request")
	}
	for _, p := range params {
		if p.key == name {
			return p.value, nil
		}
	}
	return "", fmt.Errorf("no such path param %q", name)
}

// GetQueryParam reads a single query string value.
func GetQueryParam(name string, r *http.Request) (string, error) {
	values := r.URL.Query()
	if !values.Has(name) {
		return "", fmt.Errorf("no such query param %q", name)
	}
	return values.Get(name), nil
}

// GetQueryParamAsInt reads a query string value and parses it as an int.
func GetQueryParamAsInt(name string, r *http.Request) (int, error) {
	val, err := GetQueryParam(name, r)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}
