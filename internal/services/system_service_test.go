package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/lumastore/api/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemHealthReportFillsBuildMetadata(t *testing.T) {
	ctx := context.Background()
	startedAt := time.Date(2025, 8, 1, 6, 0, 0, 0, time.UTC)
	now := time.Date(2025, 8, 1, 6, 30, 0, 0, time.UTC)

	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			}, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   startedAt,
		},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected derived ok status got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("expected build metadata filled got %#v", report)
	}
	if report.Uptime != 30*time.Minute {
		t.Fatalf("expected uptime 30m got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s got %s", now, report.GeneratedAt)
	}
}

func TestSystemHealthReportKeepsRepositoryValues(t *testing.T) {
	ctx := context.Background()
	generatedAt := time.Date(2025, 8, 1, 6, 15, 0, 0, time.UTC)

	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status:      domain.HealthStatusDegraded,
				Version:     "repo-version",
				GeneratedAt: generatedAt,
				Uptime:      time.Hour,
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
				},
			}, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return time.Date(2025, 8, 1, 7, 0, 0, 0, time.UTC) },
		Build:            BuildInfo{Version: "build-version"},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected repository status preserved got %s", report.Status)
	}
	if report.Version != "repo-version" {
		t.Fatalf("expected repository version preferred got %s", report.Version)
	}
	if report.Uptime != time.Hour || !report.GeneratedAt.Equal(generatedAt) {
		t.Fatalf("expected repository timings preserved got %#v", report)
	}
}

func TestSystemHealthReportDerivesWorstStatus(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{name: "no checks", checks: nil, want: domain.HealthStatusOK},
		{
			name: "degraded dependency",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error dominates",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusDegraded},
				"secrets":   {Status: domain.HealthStatusError},
			},
			want: domain.HealthStatusError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepo{
				collectFn: func(context.Context) (domain.SystemHealthReport, error) {
					return domain.SystemHealthReport{Checks: tc.checks}, nil
				},
			}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("new system service: %v", err)
			}
			report, err := svc.HealthReport(ctx)
			if err != nil {
				t.Fatalf("health report: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s got %s", tc.want, report.Status)
			}
		})
	}
}
