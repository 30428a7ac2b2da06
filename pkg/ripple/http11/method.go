package http11

// methodNames is indexed by method ID.
var methodNames = [...]string{
	MethodUnknown: "",
	MethodGET:     "GET",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodPATCH:   "PATCH",
	MethodHEAD:    "HEAD",
	MethodOPTIONS: "OPTIONS",
	MethodCONNECT: "CONNECT",
	MethodTRACE:   "TRACE",
}

// ParseMethodID converts a method token to its numeric ID.
// Returns MethodUnknown for unrecognized methods. Matching is case-sensitive
// (RFC 7231 §4.1).
//
// Allocation behavior: 0 allocs/op (the string conversion in a switch does not escape)
func ParseMethodID(method []byte) uint8 {
	switch string(method) {
	case "GET":
		return MethodGET
	case "POST":
		return MethodPOST
	case "PUT":
		return MethodPUT
	case "DELETE":
		return MethodDELETE
	case "PATCH":
		return MethodPATCH
	case "HEAD":
		return MethodHEAD
	case "OPTIONS":
		return MethodOPTIONS
	case "CONNECT":
		return MethodCONNECT
	case "TRACE":
		return MethodTRACE
	}
	return MethodUnknown
}

// MethodString returns the string representation of a method ID.
func MethodString(id uint8) string {
	if int(id) < len(methodNames) {
		return methodNames[id]
	}
	return ""
}

// IsValidMethodID reports whether id names a known method.
func IsValidMethodID(id uint8) bool {
	return id > MethodUnknown && id <= MethodTRACE
}
