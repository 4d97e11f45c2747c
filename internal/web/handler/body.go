package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/conduit-lang/entityroutes/internal/web/response"
)

// MaxBodySize bounds the request bodies of write routes
const MaxBodySize = 1 << 20

// decodeBody reads the JSON object of a write request. Numbers are kept as json.Number
// so ids and integers survive untouched.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, response.BadRequest("request body is empty", nil)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	dec.UseNumber()

	var values map[string]interface{}
	if err := dec.Decode(&values); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, response.BadRequest("request body is empty", err)
		}
		return nil, response.BadRequest("invalid JSON body", err)
	}
	if values == nil {
		return nil, response.BadRequest("request body must be a JSON object", nil)
	}
	return values, nil
}
