package transfer

import (
	"net/http"
	"strings"

	"github.com/abdul-hamid-achik/postkit/packages/native"
	"github.com/abdul-hamid-achik/postkit/packages/timing"
)

// buildResponse reads status and timing off a completed handle and assembles
// the response from res.
func buildResponse(h *native.Easy, res *transferResult) (*Response, error) {
	status, _ := h.GetInfoLong(native.InfoResponseCode)
	return assembleResponse(res, int(status), readCounters(h), BackendNative)
}

// assembleResponse is shared by both engines. On success the spill file, if
// any, is closed and handed to the response.
func assembleResponse(res *transferResult, status int, counters timing.Counters, backend Backend) (*Response, error) {
	bd := timing.Derive(counters)
	resp := &Response{
		StatusCode: status,
		Status:     statusMessage(res.headerLines, status),
		Headers:    headerMap(res.headerLines),
		Duration:   bd.Total,
		Size:       res.bytesReceived,
		Timing:     bd,
		Backend:    backend,
	}
	if res.spill != nil {
		if err := res.closeSpill(); err != nil {
			return nil, newError(KindNetwork, err)
		}
		resp.BodyFile = res.handOff()
		return resp, nil
	}
	resp.Body = res.body
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	return resp, nil
}

func readCounters(h *native.Easy) timing.Counters {
	get := func(info native.Info) float64 {
		v, _ := h.GetInfoDouble(info)
		return v
	}
	return timing.FromSeconds(
		get(native.InfoNameLookupTime),
		get(native.InfoConnectTime),
		get(native.InfoAppConnectTime),
		get(native.InfoPreTransferTime),
		get(native.InfoStartTransferTime),
		get(native.InfoTotalTime),
		get(native.InfoRedirectTime),
	)
}

// statusMessage returns the reason phrase from the status line, or the
// standard phrase for status when the line has fewer than three tokens.
func statusMessage(lines []string, status int) string {
	if len(lines) > 0 && strings.HasPrefix(lines[0], "HTTP/") {
		line := lines[0]
		fields := strings.Fields(line)
		if len(fields) >= 3 {
			rest := strings.TrimSpace(line)
			for _, f := range fields[:2] {
				rest = strings.TrimSpace(rest[len(f):])
			}
			if rest != "" {
				return rest
			}
		}
	}
	return http.StatusText(status)
}

// headerMap parses header lines after the status line. Repeated keys are
// joined with ", " in arrival order.
func headerMap(lines []string) map[string]string {
	headers := make(map[string]string)
	if len(lines) == 0 {
		return headers
	}
	start := 0
	if strings.HasPrefix(lines[0], "HTTP/") {
		start = 1
	}
	for _, line := range lines[start:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if existing, ok := headers[key]; ok {
			headers[key] = existing + ", " + value
			continue
		}
		headers[key] = value
	}
	return headers
}
