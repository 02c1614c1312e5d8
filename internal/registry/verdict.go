package registry

import "github.com/danmuck/relaychat/internal/session"

// Verdict is the result of one admission check.
type Verdict struct {
	Accepted bool
	Reason   string
}

func Accept() Verdict {
	return Verdict{Accepted: true}
}

func Reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

// Precheck decides whether candidate may join. members is a snapshot of
// the current membership taken while admissions are serialized.
type Precheck func(candidate *session.Session, members []*session.Session) Verdict

type namedPrecheck struct {
	name  string
	check Precheck
}
