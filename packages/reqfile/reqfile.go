package reqfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/postkit/packages/core/env"
	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

var schemaLoader = gojsonschema.NewStringLoader(schema)

// File is a parsed request file.
type File struct {
	Method   string            `json:"method,omitempty"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Query    map[string]string `json:"query,omitempty"`
	Body     *string           `json:"body,omitempty"`
	JSON     any               `json:"json,omitempty"`
	BodyFile string            `json:"bodyFile,omitempty"`
	Timeout  int               `json:"timeout,omitempty"` // milliseconds

	// Vars seeds {{name}} placeholders; see Interpolate.
	Vars map[string]string `json:"vars,omitempty"`

	// BaseDir resolves BodyFile. Load sets it to the file's directory.
	BaseDir string `json:"-"`
}

// Load reads and validates the request file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.BaseDir = filepath.Dir(path)
	return f, nil
}

// Parse decodes and validates a YAML or JSON request description.
func Parse(data []byte) (*File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse request file: %w", err)
	}
	if doc == nil {
		return nil, errors.New("request file is empty")
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse request file: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("schema validation failed: %s", strings.Join(problems, "; "))
	}

	var f File
	if err := json.Unmarshal(docJSON, &f); err != nil {
		return nil, fmt.Errorf("decode request file: %w", err)
	}

	bodies := 0
	for _, set := range []bool{f.Body != nil, f.JSON != nil, f.BodyFile != ""} {
		if set {
			bodies++
		}
	}
	if bodies > 1 {
		return nil, errors.New("only one of body, json and bodyFile may be set")
	}
	return &f, nil
}

// Interpolate returns a copy of f with {{placeholders}} expanded in the URL,
// the header and query values, the body and the bodyFile path. Inside a json
// body only string values are expanded. f.Vars is not applied; callers seed r
// with it so that their own overrides can be layered on top.
func (f *File) Interpolate(r *env.Resolver) (*File, error) {
	out := *f
	var missing []string
	collect := func(err error) {
		var ue *env.UnresolvedError
		if errors.As(err, &ue) {
			missing = append(missing, ue.Names...)
		}
	}
	str := func(s string) string {
		v, err := r.Resolve(s)
		collect(err)
		return v
	}

	out.URL = str(f.URL)
	out.BodyFile = str(f.BodyFile)

	var err error
	out.Headers, err = r.ResolveAll(f.Headers)
	collect(err)
	out.Query, err = r.ResolveAll(f.Query)
	collect(err)

	if f.Body != nil {
		body := str(*f.Body)
		out.Body = &body
	}
	if f.JSON != nil {
		out.JSON = interpolateJSON(f.JSON, str)
	}

	if len(missing) > 0 {
		return nil, &env.UnresolvedError{Names: uniq(missing)}
	}
	return &out, nil
}

func interpolateJSON(v any, str func(string) string) any {
	switch t := v.(type) {
	case string:
		return str(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = interpolateJSON(e, str)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = interpolateJSON(e, str)
		}
		return s
	}
	return v
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Request builds the transfer request. defaults are applied first, so headers
// from the file win.
func (f *File) Request(defaults map[string]string) (*transfer.Request, error) {
	method := f.Method
	if method == "" {
		method = "GET"
	}
	req := transfer.NewRequest(strings.ToUpper(method), f.URL)

	for k, v := range defaults {
		req.SetHeader(k, v)
	}
	for k, v := range f.Headers {
		req.SetHeader(k, v)
	}
	for k, v := range f.Query {
		req.SetQueryParam(k, v)
	}

	switch {
	case f.Body != nil:
		req.SetBodyString(*f.Body)
	case f.JSON != nil:
		body, err := json.Marshal(f.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		req.SetBody(body)
		if !hasHeader(req.Headers, "Content-Type") {
			req.SetHeader("Content-Type", "application/json")
		}
	case f.BodyFile != "":
		body, err := f.readBodyFile()
		if err != nil {
			return nil, err
		}
		req.SetBody(body)
	}

	if f.Timeout > 0 {
		req.SetTimeout(time.Duration(f.Timeout) * time.Millisecond)
	}
	return req, nil
}

func (f *File) readBodyFile() ([]byte, error) {
	path := f.BodyFile
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}

	// Validate path doesn't escape base directory (prevent path traversal)
	if err := validatePathWithinBase(path, f.BaseDir); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body file: %w", err)
	}
	return body, nil
}

// validatePathWithinBase checks that the resolved path stays within the base directory
// to prevent path traversal attacks
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	// Clean and resolve both paths
	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	// Ensure the path starts with the base directory
	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
