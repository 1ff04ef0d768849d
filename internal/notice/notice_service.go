package notice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"noticeboard/internal/asset"
	"noticeboard/internal/broadcast"
	"noticeboard/internal/clock"
	"noticeboard/internal/config"
)

const (
	dateLayout     = "2006-01-02"
	scheduleLayout = "2006-01-02 3:04 PM"
)

// Service runs the administrative side of the notice lifecycle: every
// mutation is validated first, written to the store, then announced.
type Service struct {
	store      Store
	storage    asset.Storage
	rasterizer asset.Rasterizer
	publisher  broadcast.Publisher
	clock      clock.Clock
	validate   *validator.Validate

	departments []string
	known       map[string]struct{}
	extensions  map[string]struct{}
	ttl         time.Duration
	loc         *time.Location
	layout      string
}

func NewService(store Store, storage asset.Storage, rasterizer asset.Rasterizer, publisher broadcast.Publisher, clk clock.Clock, cfg config.NoticeConfig) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:      store,
		storage:    storage,
		rasterizer: rasterizer,
		publisher:  publisher,
		clock:      clk,
		validate:   validator.New(),
		known:      make(map[string]struct{}),
		extensions: make(map[string]struct{}),
		ttl:        cfg.DefaultTTL(),
		loc:        loc,
		layout:     cfg.TimestampFormat,
	}
	for _, d := range cfg.Departments {
		if _, dup := s.known[d]; !dup {
			s.known[d] = struct{}{}
			s.departments = append(s.departments, d)
		}
	}
	for _, e := range cfg.AllowedExtensions {
		s.extensions[e] = struct{}{}
	}
	return s, nil
}

// Departments returns the configured departments in order.
func (s *Service) Departments() []string {
	out := make([]string, len(s.departments))
	copy(out, s.departments)
	return out
}

// CheckDepartment normalizes department and rejects unknown ones.
func (s *Service) CheckDepartment(department string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(department))
	if _, ok := s.known[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDepartment, department)
	}
	return d, nil
}

// stamp renders an event time in the wire layout.
func (s *Service) stamp(t time.Time) string {
	return t.UTC().Format(s.layout)
}

func (s *Service) checkUpload(up Upload) (name, ext string, err error) {
	name = asset.SanitizeFilename(up.Filename)
	if name == "" {
		return "", "", fmt.Errorf("%w: no file selected", ErrInvalidInput)
	}
	ext = asset.Extension(name)
	if _, ok := s.extensions[ext]; !ok {
		return "", "", fmt.Errorf("%w: %q", ErrDisallowedKind, ext)
	}
	return name, ext, nil
}

// expiryOfDate turns a civil date into the last second of that day, in UTC.
func (s *Service) expiryOfDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid expiration date %q", ErrInvalidInput, date)
	}
	return d.Add(24*time.Hour - time.Second).UTC(), nil
}

// CreateImmediate publishes an upload right away. PDFs become one notice per
// page. expireDate is optional; without it the notice lives for the default
// TTL.
func (s *Service) CreateImmediate(ctx context.Context, department string, up Upload, expireDate string) ([]Notice, error) {
	dept, err := s.CheckDepartment(department)
	if err != nil {
		return nil, err
	}
	name, ext, err := s.checkUpload(up)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expireAt := now.Add(s.ttl)
	if strings.TrimSpace(expireDate) != "" {
		if expireAt, err = s.expiryOfDate(expireDate); err != nil {
			return nil, err
		}
	}
	if !expireAt.After(now) {
		return nil, fmt.Errorf("%w: expiration date is already past", ErrInvalidInput)
	}

	notices, err := s.create(ctx, dept, name, ext, up.Body, nil, expireAt, true, now)
	if err != nil {
		return nil, err
	}
	at := s.stamp(now)
	for _, n := range notices {
		s.publisher.Publish(ctx, dept, broadcast.NoticeCreated(n.Payload(s.layout), at))
	}
	log.Infof("[Notice] %s: %d immediate notice(s) from %s", dept, len(notices), name)
	return notices, nil
}

// CreateScheduled stores an upload that becomes visible at the given civil
// date and time. The scheduler announces it once the time has come.
func (s *Service) CreateScheduled(ctx context.Context, department string, up Upload, in ScheduleInput) ([]Notice, error) {
	dept, err := s.CheckDepartment(department)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	name, ext, err := s.checkUpload(up)
	if err != nil {
		return nil, err
	}

	raw := fmt.Sprintf("%s %s %s", strings.TrimSpace(in.Date), strings.TrimSpace(in.Time), strings.ToUpper(in.AMPM))
	local, err := time.ParseInLocation(scheduleLayout, raw, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date/time %q, use e.g. 02:30 PM", ErrInvalidInput, raw)
	}
	scheduledAt := local.UTC()

	expireAt := scheduledAt.Add(s.ttl)
	if strings.TrimSpace(in.ExpireDate) != "" {
		if expireAt, err = s.expiryOfDate(in.ExpireDate); err != nil {
			return nil, err
		}
	}
	if !expireAt.After(scheduledAt) {
		return nil, fmt.Errorf("%w: expiration must be after the scheduled time", ErrInvalidInput)
	}

	notices, err := s.create(ctx, dept, name, ext, up.Body, &scheduledAt, expireAt, false, s.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Infof("[Notice] %s: %d notice(s) scheduled for %s", dept, len(notices), scheduledAt.Format(s.layout))
	return notices, nil
}

// create stores the asset(s) and inserts the matching records. When the
// insert fails the stored assets are removed again.
func (s *Service) create(ctx context.Context, dept, name, ext string, body io.Reader, scheduledAt *time.Time, expireAt time.Time, broadcasted bool, now time.Time) ([]Notice, error) {
	newNotice := func(ref string, kind AssetKind) *Notice {
		return &Notice{
			Department:  dept,
			AssetRef:    ref,
			AssetKind:   kind,
			ScheduledAt: scheduledAt,
			ExpireAt:    expireAt,
			Broadcasted: broadcasted,
			CreatedAt:   now,
		}
	}

	if ext != "pdf" {
		ref, err := s.storage.Store(ctx, name, body)
		if err != nil {
			return nil, fmt.Errorf("store asset: %w", err)
		}
		n := newNotice(ref, KindForExtension(ext))
		if _, err := s.store.Insert(ctx, n); err != nil {
			s.deleteAsset(ctx, ref)
			return nil, err
		}
		return []Notice{*n}, nil
	}

	pages, err := s.rasterizer.Rasterize(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("convert pdf: %w", err)
	}
	base := asset.BaseName(name)
	batch := make([]*Notice, 0, len(pages))
	for i, page := range pages {
		ref, err := s.storage.Store(ctx, fmt.Sprintf("%s_page_%d.jpg", base, i+1), bytes.NewReader(page))
		if err != nil {
			s.discard(ctx, batch)
			return nil, fmt.Errorf("store pdf page %d: %w", i+1, err)
		}
		batch = append(batch, newNotice(ref, KindPDFImage))
	}
	if _, err := s.store.BatchInsert(ctx, batch); err != nil {
		s.discard(ctx, batch)
		return nil, err
	}
	out := make([]Notice, 0, len(batch))
	for _, n := range batch {
		out = append(out, *n)
	}
	return out, nil
}

func (s *Service) discard(ctx context.Context, batch []*Notice) {
	for _, n := range batch {
		s.deleteAsset(ctx, n.AssetRef)
	}
}

// deleteAsset never fails the caller; an orphaned asset is tolerated.
func (s *Service) deleteAsset(ctx context.Context, ref string) {
	if err := s.storage.Delete(ctx, ref); err != nil {
		log.Warnf("[Notice] asset %s cleanup failed: %v", ref, err)
	}
}

// Delete removes one notice and its asset and returns what was removed.
func (s *Service) Delete(ctx context.Context, id uint64) (*Notice, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, ErrNotFound
	}
	s.deleteAsset(ctx, n.AssetRef)
	s.publisher.Publish(ctx, n.Department, broadcast.NoticeRemoved(n.Department, n.ID, s.stamp(s.clock.Now())))
	return n, nil
}

// DeleteAll clears a department and announces it with a single event.
func (s *Service) DeleteAll(ctx context.Context, department string) (int, error) {
	dept, err := s.CheckDepartment(department)
	if err != nil {
		return 0, err
	}
	removed, err := s.store.DeleteAllByDepartment(ctx, dept)
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}
	ids := make([]uint64, 0, len(removed))
	for _, n := range removed {
		s.deleteAsset(ctx, n.AssetRef)
		ids = append(ids, n.ID)
	}
	s.publisher.Publish(ctx, dept, broadcast.DepartmentCleared(dept, ids, s.stamp(s.clock.Now())))
	return len(removed), nil
}

// Snapshot returns the currently visible notices of a department, newest first.
func (s *Service) Snapshot(ctx context.Context, department string) ([]broadcast.NoticePayload, error) {
	dept, err := s.CheckDepartment(department)
	if err != nil {
		return nil, err
	}
	notices, err := s.store.QueryByDepartment(ctx, dept, FilterVisible, s.clock.Now())
	if err != nil {
		return nil, err
	}
	out := make([]broadcast.NoticePayload, 0, len(notices))
	for _, n := range notices {
		out = append(out, n.Payload(s.layout))
	}
	return out, nil
}

// AdminView loads the released and the still pending notices of a department.
func (s *Service) AdminView(ctx context.Context, department string) (*AdminView, error) {
	dept, err := s.CheckDepartment(department)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	view := &AdminView{Department: dept}
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		notices, err := s.store.QueryByDepartment(ctx, dept, FilterReleased, now)
		if err != nil {
			log.Errorf("[ERROR] AdminView: released notices: %v", err)
			return err
		}
		view.Released = notices
		return nil
	})
	eg.Go(func() error {
		notices, err := s.store.QueryByDepartment(ctx, dept, FilterPending, now)
		if err != nil {
			log.Errorf("[ERROR] AdminView: pending notices: %v", err)
			return err
		}
		view.Pending = notices
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

// OpenAsset streams a stored asset.
func (s *Service) OpenAsset(ctx context.Context, ref string) (io.ReadCloser, error) {
	return s.storage.Retrieve(ctx, ref)
}
