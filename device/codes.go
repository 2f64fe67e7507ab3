package device

// Native error codes reported by the device layer.
const (
	CodeSocket                int32 = -1
	CodeTLS                   int32 = -2
	CodePlistParse            int32 = -3
	CodeUnexpectedResponse    int32 = -4
	CodeServiceNotFound       int32 = -6
	CodeProcessNotFound       int32 = -7
	CodeAppNotFound           int32 = -8
	CodeAfcObjectNotFound     int32 = -9
	CodeAfcObjectExists       int32 = -10
	CodeAfcDirNotEmpty        int32 = -11
	CodeAfcPermissionDenied   int32 = -12
	CodeInvalidArgument       int32 = -13
	CodeCancelled             int32 = -14
	CodeDisconnected          int32 = -15
	CodeAfcObjectIsDir        int32 = -16
	CodeProcessAlreadyRunning int32 = -17
)

var codeNames = map[int32]string{
	CodeSocket:                "Socket",
	CodeTLS:                   "Tls",
	CodePlistParse:            "PlistParse",
	CodeUnexpectedResponse:    "UnexpectedResponse",
	CodeServiceNotFound:       "ServiceNotFound",
	CodeProcessNotFound:       "ProcessNotFound",
	CodeAppNotFound:           "AppNotFound",
	CodeAfcObjectNotFound:     "AfcObjectNotFound",
	CodeAfcObjectExists:       "AfcObjectExists",
	CodeAfcDirNotEmpty:        "AfcDirNotEmpty",
	CodeAfcPermissionDenied:   "AfcPermissionDenied",
	CodeInvalidArgument:       "InvalidArgument",
	CodeCancelled:             "Cancelled",
	CodeDisconnected:          "Disconnected",
	CodeAfcObjectIsDir:        "AfcObjectIsDir",
	CodeProcessAlreadyRunning: "ProcessAlreadyRunning",
}

// CodeName returns the symbolic name of a native error code, or "".
func CodeName(code int32) string {
	return codeNames[code]
}
