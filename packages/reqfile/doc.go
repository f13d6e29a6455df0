// Package reqfile loads request description files.
//
// A request file is YAML or JSON and describes exactly one request:
//
//	method: POST
//	url: https://api.example.com/items
//	headers:
//	  Accept: application/json
//	query:
//	  page: "2"
//	json:
//	  name: widget
//	timeout: 5000
//
// The body is given as one of body (raw text), json (encoded as JSON) or
// bodyFile (a path relative to the request file). Files are validated
// against a JSON Schema before use.
package reqfile
