package notice

import (
	"context"
	"errors"
	"io"
	"time"

	"noticeboard/internal/broadcast"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("notice not found")
	ErrDuplicate         = errors.New("duplicate notice")
	ErrUnknownDepartment = errors.New("unknown department")
	ErrDisallowedKind    = errors.New("file type not allowed")
)

// MySQL 'Duplicate entry'
const ErrMySQLDuplicateEntry = 1062

// AssetKind tells display clients how to render an asset.
type AssetKind string

const (
	KindImage    AssetKind = "image"
	KindVideo    AssetKind = "video"
	KindAudio    AssetKind = "audio"
	KindDocument AssetKind = "document"
	KindPDFImage AssetKind = "pdf_image"
)

// KindForExtension maps an allowed upload extension to its rendering kind.
// PDFs are rasterized before storage and never stored with their own kind.
func KindForExtension(ext string) AssetKind {
	switch ext {
	case "png", "jpg", "jpeg", "gif", "webp":
		return KindImage
	case "mp4", "webm", "mov":
		return KindVideo
	case "mp3", "wav", "ogg":
		return KindAudio
	case "pdf":
		return KindPDFImage
	default:
		return KindDocument
	}
}

// Notice is a row of the 'notices' table. All timestamps are UTC.
type Notice struct {
	ID          uint64     `json:"id" db:"id"`
	Department  string     `json:"department" db:"department"`
	AssetRef    string     `json:"asset_ref" db:"asset_ref"`
	AssetKind   AssetKind  `json:"asset_kind" db:"asset_kind"`
	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	ExpireAt    time.Time  `json:"expire_at" db:"expire_at"`
	Broadcasted bool       `json:"broadcasted" db:"broadcasted"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Visibility is the derived lifecycle state of a notice at some instant.
type Visibility int

const (
	Pending Visibility = iota
	Active
	Expired
)

func (v Visibility) String() string {
	switch v {
	case Pending:
		return "pending"
	case Active:
		return "active"
	default:
		return "expired"
	}
}

// VisibilityState evaluates n at now. Expiry wins over everything, so a notice
// whose expiry precedes its schedule is never shown.
func VisibilityState(n Notice, now time.Time) Visibility {
	if !now.Before(n.ExpireAt) {
		return Expired
	}
	if n.ScheduledAt != nil && now.Before(*n.ScheduledAt) {
		return Pending
	}
	return Active
}

// Payload renders n in the wire form shared by events and snapshots.
func (n Notice) Payload(layout string) broadcast.NoticePayload {
	p := broadcast.NoticePayload{
		ID:         n.ID,
		Department: n.Department,
		AssetRef:   n.AssetRef,
		AssetKind:  string(n.AssetKind),
		ExpireAt:   n.ExpireAt.UTC().Format(layout),
	}
	if n.ScheduledAt != nil {
		s := n.ScheduledAt.UTC().Format(layout)
		p.ScheduledAt = &s
	}
	return p
}

// Filter narrows QueryByDepartment.
type Filter int

const (
	// FilterVisible returns Active notices only (the display snapshot).
	FilterVisible Filter = iota
	// FilterReleased returns notices whose schedule has passed, ignoring expiry.
	FilterReleased
	// FilterPending returns notices scheduled in the future, ignoring expiry.
	FilterPending
	FilterAll
)

// Store is the persistence contract of the notice lifecycle.
type Store interface {
	Insert(ctx context.Context, n *Notice) (uint64, error)
	// BatchInsert stores all notices or none, assigning ids in order.
	BatchInsert(ctx context.Context, ns []*Notice) ([]uint64, error)
	Get(ctx context.Context, id uint64) (*Notice, error)
	QueryByDepartment(ctx context.Context, department string, filter Filter, now time.Time) ([]Notice, error)
	QueryPendingActivation(ctx context.Context, now time.Time) ([]Notice, error)
	QueryExpired(ctx context.Context, now time.Time) ([]Notice, error)
	// MarkBroadcasted reports whether this call flipped the flag.
	MarkBroadcasted(ctx context.Context, id uint64) (bool, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, id uint64) (bool, error)
	DeleteAllByDepartment(ctx context.Context, department string) ([]Notice, error)
	CountByDepartment(ctx context.Context, department string, filter Filter, now time.Time) (int, error)
}

// Upload is one file received from the admin form.
type Upload struct {
	Filename string
	Body     io.Reader
}

// ScheduleInput carries the raw schedule form fields, entered in civil time.
type ScheduleInput struct {
	Date       string `validate:"required,datetime=2006-01-02"`
	Time       string `validate:"required"`
	AMPM       string `validate:"required,oneof=AM PM am pm"`
	ExpireDate string `validate:"omitempty,datetime=2006-01-02"`
}

// AdminView is what the department admin page shows.
type AdminView struct {
	Department string
	Released   []Notice
	Pending    []Notice
}
