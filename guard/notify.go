package guard

import "github.com/rs/zerolog"

// NoticeKind classifies a user-visible notice raised by the guard.
type NoticeKind int

const (
	NoticeSessionExpired NoticeKind = iota + 1
	NoticeForbidden
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeSessionExpired:
		return "session-expired"
	case NoticeForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Notice messages shown to the user.
const (
	SessionExpiredMessage = "Your session has expired, please sign in again"
	ForbiddenMessage      = "You do not have permission to access this page"
)

// Notifier surfaces transient notices to the user. Delivery is fire and
// forget; the guard never waits on or checks it.
type Notifier interface {
	Notify(kind NoticeKind, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind NoticeKind, message string)

func (f NotifierFunc) Notify(kind NoticeKind, message string) { f(kind, message) }

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(kind NoticeKind, message string) {
	n.Logger.Warn().Str("notice", kind.String()).Msg(message)
}
