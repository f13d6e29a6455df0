package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

// JSONOutput is the document written for one transfer.
type JSONOutput struct {
	Request  JSONRequest   `json:"request"`
	Response *JSONResponse `json:"response,omitempty"`
	Error    *JSONError    `json:"error,omitempty"`
	Time     string        `json:"time"`
}

// JSONRequest represents request details
type JSONRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// JSONResponse represents response details. Body holds the payload inline:
// raw JSON when the body parses, a string otherwise. BodyFile is set instead
// when the body lives on disk.
type JSONResponse struct {
	StatusCode int                `json:"statusCode"`
	Status     string             `json:"status"`
	Headers    map[string]string  `json:"headers,omitempty"`
	Duration   float64            `json:"duration"` // milliseconds
	Size       int64              `json:"size"`
	Backend    string             `json:"backend"`
	Timing     map[string]float64 `json:"timing"`
	Body       json.RawMessage    `json:"body,omitempty"`
	BodyFile   string             `json:"bodyFile,omitempty"`
	Query      json.RawMessage    `json:"query,omitempty"`
}

// JSONError represents a failed transfer
type JSONError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// JSONFormatter writes one JSON document per transfer.
type JSONFormatter struct {
	writer io.Writer
	query  string
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func JSONWithQuery(path string) JSONOption {
	return func(f *JSONFormatter) {
		f.query = path
	}
}

func (f *JSONFormatter) FormatResponse(req *transfer.Request, resp *transfer.Response, bodyPath string) error {
	out := JSONResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Headers,
		Duration:   millis(resp.Duration),
		Size:       resp.Size,
		Backend:    string(resp.Backend),
		Timing:     make(map[string]float64, 7),
	}
	for _, p := range resp.Timing.Phases() {
		out.Timing[p.Name] = millis(p.Duration)
	}

	switch {
	case f.query != "":
		result, err := resp.Query(f.query)
		if err != nil {
			return err
		}
		out.Query = rawResult(result)
	case bodyPath != "":
		out.BodyFile = bodyPath
	case resp.IsSpilled():
		out.BodyFile = resp.BodyFile
	default:
		out.Body = rawBody(resp.Body)
	}

	return f.encode(JSONOutput{
		Request:  JSONRequest{Method: req.Method, URL: req.URL},
		Response: &out,
		Time:     time.Now().Format(time.RFC3339),
	})
}

// FormatError writes the failure of req.
func (f *JSONFormatter) FormatError(req *transfer.Request, err error) error {
	je := &JSONError{Message: err.Error()}
	if kind := transfer.KindOf(err); kind != 0 {
		je.Kind = kind.String()
	}
	doc := JSONOutput{Error: je, Time: time.Now().Format(time.RFC3339)}
	if req != nil {
		doc.Request = JSONRequest{Method: req.Method, URL: req.URL}
	}
	return f.encode(doc)
}

func (f *JSONFormatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func rawBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if gjson.ValidBytes(body) {
		return json.RawMessage(body)
	}
	s, _ := json.Marshal(string(body))
	return s
}

func rawResult(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return json.RawMessage("null")
	}
	return json.RawMessage(r.Raw)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
