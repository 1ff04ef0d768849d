package dashboard

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"noticeboard/internal/clock"
	"noticeboard/internal/notice"
)

// DepartmentSummary is one card on the dashboard.
type DepartmentSummary struct {
	Department  string
	Visible     int
	Pending     int
	Subscribers int
}

// DashboardData is passed to the dashboard view.
type DashboardData struct {
	Departments []DepartmentSummary
	Visible     int
	Pending     int
}

// SubscriberCounter reports live display connections per department.
type SubscriberCounter interface {
	Count(department string) int
}

// Service gathers the per-department counts shown on the dashboard.
type Service struct {
	store       notice.Store
	subscribers SubscriberCounter
	clock       clock.Clock
	departments []string
}

// NewService creates a dashboard service over the given departments.
func NewService(store notice.Store, subscribers SubscriberCounter, clk clock.Clock, departments []string) *Service {
	return &Service{
		store:       store,
		subscribers: subscribers,
		clock:       clk,
		departments: departments,
	}
}

// GetDashboardData counts visible and pending notices of every department in
// parallel.
func (s *Service) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	now := s.clock.Now()
	summaries := make([]DepartmentSummary, len(s.departments))
	eg, ctx := errgroup.WithContext(ctx)

	for i, dept := range s.departments {
		i, dept := i, dept
		summaries[i] = DepartmentSummary{Department: dept}
		if s.subscribers != nil {
			summaries[i].Subscribers = s.subscribers.Count(dept)
		}

		eg.Go(func() error {
			count, err := s.store.CountByDepartment(ctx, dept, notice.FilterVisible, now)
			if err != nil {
				log.Errorf("[ERROR] GetDashboardData: visible count of %s failed: %v", dept, err)
				return err
			}
			summaries[i].Visible = count
			return nil
		})
		eg.Go(func() error {
			count, err := s.store.CountByDepartment(ctx, dept, notice.FilterPending, now)
			if err != nil {
				log.Errorf("[ERROR] GetDashboardData: pending count of %s failed: %v", dept, err)
				return err
			}
			summaries[i].Pending = count
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	data := &DashboardData{Departments: summaries}
	for _, d := range summaries {
		data.Visible += d.Visible
		data.Pending += d.Pending
	}
	return data, nil
}
