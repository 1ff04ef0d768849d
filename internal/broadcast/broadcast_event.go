package broadcast

// EventType discriminates the lifecycle events pushed to display clients.
type EventType string

const (
	TypeNoticeCreated     EventType = "notice_created"
	TypeNoticeActivated   EventType = "notice_activated"
	TypeNoticeRemoved     EventType = "notice_removed"
	TypeDepartmentCleared EventType = "department_cleared"
)

// NoticePayload is the wire form of a notice, shared by push events and
// snapshot pulls. Timestamps are UTC text; ScheduledAt is null for
// immediate notices.
type NoticePayload struct {
	ID          uint64  `json:"id"`
	Department  string  `json:"department"`
	AssetRef    string  `json:"asset_ref"`
	AssetKind   string  `json:"asset_kind"`
	ScheduledAt *string `json:"scheduled_at"`
	ExpireAt    string  `json:"expire_at"`
}

// Event is one lifecycle change. Notice is set for created/activated, ID for
// removed and IDs for a department clear. At is when the change happened, in
// the same UTC text layout as the notice timestamps.
type Event struct {
	Type       EventType      `json:"type"`
	Department string         `json:"department"`
	Notice     *NoticePayload `json:"notice,omitempty"`
	ID         uint64         `json:"id,omitempty"`
	IDs        []uint64       `json:"ids,omitempty"`
	At         string         `json:"at"`
}

func NoticeCreated(n NoticePayload, at string) Event {
	return Event{Type: TypeNoticeCreated, Department: n.Department, Notice: &n, ID: n.ID, At: at}
}

func NoticeActivated(n NoticePayload, at string) Event {
	return Event{Type: TypeNoticeActivated, Department: n.Department, Notice: &n, ID: n.ID, At: at}
}

func NoticeRemoved(department string, id uint64, at string) Event {
	return Event{Type: TypeNoticeRemoved, Department: department, ID: id, At: at}
}

// DepartmentCleared reports a bulk delete. ids lists every removed notice so
// clients can reconcile without a snapshot pull.
func DepartmentCleared(department string, ids []uint64, at string) Event {
	return Event{Type: TypeDepartmentCleared, Department: department, IDs: ids, At: at}
}
