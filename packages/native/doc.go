// Package native is a callback-driven, blocking HTTP transfer library with an
// easy-handle API in the style of libcurl.
//
// A caller creates one Easy handle per transfer, sets typed options on it,
// registers write, header and transfer-info callbacks together with opaque
// Userdata values, and then calls Perform, which blocks until the transfer
// completes or is aborted:
//
//	h := native.NewEasy()
//	defer h.Cleanup()
//	h.SetOptString(native.OptURL, "https://example.com")
//	h.SetWriteFunc(onBody)
//	ud := native.NewUserdata(state)
//	h.SetOptPointer(native.OptWriteData, ud)
//	code := h.Perform()
//	ud.Delete()
//
// Every callback of one Perform call runs on the goroutine that called
// Perform, one at a time and never concurrently with another callback of the
// same handle. Returning from Perform establishes a happens-before edge for all
// state the callbacks touched.
//
// Timing and response details are read back with GetInfoDouble and
// GetInfoLong once Perform has returned.
package native
