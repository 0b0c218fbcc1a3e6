package migration

import "fmt"

// AdminState は管理者1件の移行状態。
// Pending → ServiceCreating → AdminResolving → Success | Failed と遷移する。
type AdminState int

const (
	StatePending AdminState = iota
	StateServiceCreating
	StateAdminResolving
	StateSuccess
	StateFailed
)

func (s AdminState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateServiceCreating:
		return "service_creating"
	case StateAdminResolving:
		return "admin_resolving"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome は1回の試行の結果。
type Outcome int

const (
	// OutcomeRetry は次の試行に進む。
	OutcomeRetry Outcome = iota
	// OutcomeAbort は再試行せずにこの管理者を失敗とする。
	OutcomeAbort
	// OutcomeSuccess は管理者とサービスの紐付けが完了したことを示す。
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeAbort:
		return "abort"
	case OutcomeSuccess:
		return "success"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// AdminResult は管理者1件の移行結果。
type AdminResult struct {
	Admin     string
	State     AdminState
	Attempts  int
	ServiceID int64
	Err       error
}

// GroupResult は管理者グループ1件のユーザー移行結果。
type GroupResult struct {
	Admin   string
	Created int
	Failed  int
	Skipped int
	// Reason はグループ全体をスキップした理由。スキップしていない場合は空。
	Reason string
}

// Report は移行処理全体の結果。
type Report struct {
	Admins       []AdminResult
	Groups       []GroupResult
	UsersCreated int
	UsersFailed  int
	UsersSkipped int
}

// AdminsSucceeded は成功した管理者の数を返す。
func (r *Report) AdminsSucceeded() int {
	n := 0
	for _, a := range r.Admins {
		if a.State == StateSuccess {
			n++
		}
	}
	return n
}

// AdminsFailed は失敗した管理者の数を返す。
func (r *Report) AdminsFailed() int {
	return len(r.Admins) - r.AdminsSucceeded()
}
