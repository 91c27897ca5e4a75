package errs

// 通用错误码
const (
	ServerInternalError = 500
	ArgsError           = 1001
	NoPermissionError   = 1002
	RecordNotFoundError = 1004
)

// 连接/握手相关错误码
const (
	IdentityUnresolvedError  = 3001
	StoreUnavailableError    = 3002
	SessionNotFoundError     = 3003
	DuplicateConnectionError = 3004
	InvalidSignatureError    = 3005
	UnknownMessageTypeError  = 3006
	ConnClosedError          = 3007
)

var (
	ErrArgs               = NewCodeError(ArgsError, "ArgsError")
	ErrNoPermission       = NewCodeError(NoPermissionError, "NoPermissionError")
	ErrRecordNotFound     = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrInternalServer     = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrIdentityUnresolved = NewCodeError(IdentityUnresolvedError, "IdentityUnresolved")
	ErrStoreUnavailable   = NewCodeError(StoreUnavailableError, "IdentityStoreUnavailable")
	ErrSessionNotFound    = NewCodeError(SessionNotFoundError, "SessionNotFound")
	ErrDuplicateConn      = NewCodeError(DuplicateConnectionError, "DuplicateConnection")
	ErrInvalidSignature   = NewCodeError(InvalidSignatureError, "InvalidSignature")
	ErrUnknownMessageType = NewCodeError(UnknownMessageTypeError, "UnknownMessageType")
	ErrConnClosed         = NewCodeError(ConnClosedError, "ConnClosed")
)
