package transfer

import (
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"

	"github.com/abdul-hamid-achik/postkit/packages/native"
)

var (
	errNoTrustStore  = errors.New("https requires a CA bundle and none is configured")
	errInvalidMethod = errors.New("invalid request method")
)

// handleSetter applies options in order and keeps the first failure.
type handleSetter struct {
	h   *native.Easy
	err error
}

func (s *handleSetter) check(what string, code native.Code) {
	if s.err == nil && code != native.CodeOK {
		s.err = &Error{Kind: KindNetwork, Code: code, Err: fmt.Errorf("configure %s: %s", what, native.StrError(code))}
	}
}

func (s *handleSetter) long(what string, opt native.Option, v int64) {
	if s.err == nil {
		s.check(what, s.h.SetOptLong(opt, v))
	}
}

func (s *handleSetter) str(what string, opt native.Option, v string) {
	if s.err == nil {
		s.check(what, s.h.SetOptString(opt, v))
	}
}

// configureHandle populates h for req under policy p. It returns the names of
// headers that were dropped because they could not be sanitized.
func configureHandle(h *native.Easy, req *Request, p Policy) ([]string, error) {
	if req == nil {
		return nil, newError(KindInvalidURL, errors.New("nil request"))
	}
	rawURL, err := sanitizeURL(req.BuildURL())
	if err != nil {
		return nil, newError(KindInvalidURL, err)
	}
	method, err := sanitizeMethod(req.Method)
	if err != nil {
		return nil, newError(KindNetwork, err)
	}

	// Verification is never relaxed. Without a bundle https is refused, both
	// directly and through a redirect.
	redirProtocols := native.ProtoAll
	if p.CABundlePath == "" {
		if strings.HasPrefix(rawURL, "https:") {
			return nil, newError(KindNetwork, errNoTrustStore)
		}
		redirProtocols = native.ProtoHTTP
	}

	clean, dropped := sanitizeHeaders(req.Headers)
	headers := headerLines(clean)

	s := &handleSetter{h: h}
	s.str("url", native.OptURL, rawURL)
	s.str("method", native.OptCustomRequest, method)
	if method == "HEAD" {
		s.long("no body", native.OptNoBody, 1)
	}
	if s.err == nil && len(headers) > 0 {
		s.check("headers", h.SetOptSlist(native.OptHTTPHeader, headers))
	}
	if req.Body != nil {
		// The size must be declared before the body is attached, otherwise
		// the body is cut at its first zero byte.
		s.long("body size", native.OptPostFieldSize, int64(len(req.Body)))
		if s.err == nil {
			s.check("body", h.SetOptPostFields(native.OptCopyPostFields, req.Body))
		}
	}

	s.long("verify peer", native.OptSSLVerifyPeer, 1)
	s.long("verify host", native.OptSSLVerifyHost, 1)
	if p.CABundlePath != "" {
		s.str("CA bundle", native.OptCAInfo, p.CABundlePath)
	}
	s.long("protocols", native.OptProtocols, native.ProtoAll)
	s.long("redirect protocols", native.OptRedirProtocols, redirProtocols)
	if p.MaxRedirects > 0 {
		s.long("follow location", native.OptFollowLocation, 1)
		s.long("max redirects", native.OptMaxRedirs, int64(p.MaxRedirects))
	}

	s.long("connect timeout", native.OptConnectTimeoutMS, p.ConnectTimeout.Milliseconds())
	s.long("timeout", native.OptTimeoutMS, req.timeout(p).Milliseconds())
	s.long("stall limit", native.OptLowSpeedLimit, p.StallLimit)
	s.long("stall window", native.OptLowSpeedTime, stallSeconds(p.StallWindow))
	s.long("buffer size", native.OptBufferSize, int64(p.BufferSize))
	s.long("max file size", native.OptMaxFileSize, p.MaxResponseSize)
	s.long("progress", native.OptNoProgress, 0)

	if s.err == nil {
		s.check("write callback", h.SetWriteFunc(writeCallback))
		s.check("header callback", h.SetHeaderFunc(headerCallback))
		s.check("progress callback", h.SetXferInfoFunc(progressCallback))
	}
	return dropped, s.err
}

// sanitizeHeaders strips control characters from names and values and drops
// headers that are still invalid afterwards.
func sanitizeHeaders(headers map[string]string) (clean map[string]string, dropped []string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clean = make(map[string]string, len(headers))
	for _, k := range keys {
		name := strings.TrimSpace(stripControl(k, false))
		value := strings.TrimSpace(stripControl(headers[k], true))
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			dropped = append(dropped, k)
			continue
		}
		clean[name] = value
	}
	return clean, dropped
}

// headerLines renders headers as "Name: value" lines in name order. An empty
// value is sent as "Name;" since "Name:" would remove the header instead.
func headerLines(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		if v := headers[name]; v != "" {
			lines = append(lines, name+": "+v)
		} else {
			lines = append(lines, name+";")
		}
	}
	return lines
}

func sanitizeMethod(method string) (string, error) {
	if method == "" {
		return "GET", nil
	}
	m := strings.ToUpper(strings.TrimSpace(stripControl(method, false)))
	if !httpguts.ValidHeaderFieldName(m) {
		return "", fmt.Errorf("%w: %q", errInvalidMethod, method)
	}
	return m, nil
}

// sanitizeURL strips control characters, validates the result and converts
// an internationalized host name to its ASCII form.
func sanitizeURL(raw string) (string, error) {
	s := strings.TrimSpace(stripControl(raw, false))
	if err := ValidateURL(s); err != nil {
		return "", err
	}
	u, err := neturl.Parse(s)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if isASCII(host) {
		return u.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(ascii, port)
	} else {
		u.Host = ascii
	}
	return u.String(), nil
}

// ValidateURL checks that a URL is well-formed and uses an allowed scheme
func ValidateURL(rawURL string) error {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	// Check for valid scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}

	// Check for valid host
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// stripControl removes ASCII control characters. Tabs survive when keepTab
// is set, as they are legal inside header values.
func stripControl(s string, keepTab bool) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' && keepTab {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func stallSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
