package transfer

import (
	"strings"

	"github.com/abdul-hamid-achik/postkit/packages/native"
)

// The callbacks below run on the goroutine blocked in Perform. They resolve
// their context through the userdata handle, which only exists for the
// duration of that call; a nil context means the handle was already released
// and the transfer is told to stop.

func contextFrom(ud native.Userdata) *transferContext {
	tc, _ := ud.Value().(*transferContext)
	return tc
}

func writeCallback(data []byte, ud native.Userdata) int {
	tc := contextFrom(ud)
	if tc == nil {
		return 0
	}
	return tc.write(data)
}

func headerCallback(line []byte, ud native.Userdata) int {
	tc := contextFrom(ud)
	if tc == nil {
		return 0
	}
	tc.appendHeader(line)
	return len(line)
}

func progressCallback(ud native.Userdata, _, _, _, _ int64) int {
	tc := contextFrom(ud)
	if tc == nil || tc.isCancelled() {
		return 1
	}
	return 0
}

// performPinned runs Perform with tc reachable from the callbacks. The
// userdata handle is created right before Perform and deleted right after it,
// on every path.
func performPinned(h *native.Easy, tc *transferContext) native.Code {
	ud := native.NewUserdata(tc)
	defer ud.Delete()

	for _, opt := range []native.Option{native.OptWriteData, native.OptHeaderData, native.OptXferInfoData} {
		if code := h.SetOptPointer(opt, ud); code != native.CodeOK {
			return code
		}
	}
	return h.Perform()
}

func trimLine(line []byte) string {
	return strings.TrimSpace(string(line))
}
