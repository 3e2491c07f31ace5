// Package client is a Go client for the toolfleet routing API.
//
// # Usage
//
//	c := client.New("http://127.0.0.1:8090", client.WithAPIKey(key))
//	resp, err := c.Invoke(ctx, "search", "lookup", json.RawMessage(`{"q":"go"}`), 0)
//	if err != nil {
//	    // err is an *api.Error carrying the error kind
//	}
//
// Every non-2xx response is converted to an *api.Error. The kind comes from
// the response body when present, otherwise it is derived from the status
// code with api.KindFromHTTPStatus.
package client
