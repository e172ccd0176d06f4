package services

import (
	"context"
	"fmt"
	"time"

	"oee-platform/internal/models"
	"oee-platform/internal/repository"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// Shared across the package's tests; the metrics collector registers with
// the default registry and must only be constructed once per process.
var (
	testLogger  = logging.NewStructuredLogger("oee-test", "dev", logging.ErrorLevel)
	testMetrics = metrics.NewCollector("oee_services_test")
)

// fakeRepo is an in-memory OeeRepository for service tests
type fakeRepo struct {
	reports         map[int64]*models.Report
	entries         map[int64][]*models.ProductionRecord
	rates           []*models.StandardRate
	audits          []*models.RateAudit
	metricsByReport map[int64][]*models.OeeMetric
	settings        map[string]string

	replaceErr   error
	replaceCalls int
	nextID       int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		reports:         make(map[int64]*models.Report),
		entries:         make(map[int64][]*models.ProductionRecord),
		metricsByReport: make(map[int64][]*models.OeeMetric),
		settings:        make(map[string]string),
		nextID:          1,
	}
}

func (f *fakeRepo) id() int64 {
	v := f.nextID
	f.nextID++
	return v
}

func (f *fakeRepo) CreateReport(ctx context.Context, report *models.Report) error {
	report.ID = f.id()
	f.reports[report.ID] = report
	return nil
}

func (f *fakeRepo) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	r, ok := f.reports[id]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "production_report", ID: fmt.Sprintf("%d", id)}
	}
	return r, nil
}

func (f *fakeRepo) ListReports(ctx context.Context, limit, offset int) ([]*models.Report, int, error) {
	result := make([]*models.Report, 0, len(f.reports))
	for _, r := range f.reports {
		result = append(result, r)
	}
	return result, len(result), nil
}

func (f *fakeRepo) RenameReport(ctx context.Context, id int64, filename string) error {
	r, ok := f.reports[id]
	if !ok {
		return &repository.NotFoundError{Resource: "production_report", ID: fmt.Sprintf("%d", id)}
	}
	r.Filename = filename
	return nil
}

func (f *fakeRepo) DeleteReport(ctx context.Context, id int64) error {
	delete(f.reports, id)
	delete(f.entries, id)
	delete(f.metricsByReport, id)
	return nil
}

func (f *fakeRepo) CreateEntriesBatch(ctx context.Context, reportID int64, records []*models.ProductionRecord) error {
	for _, rec := range records {
		rec.ID = f.id()
		rec.ReportID = reportID
	}
	f.entries[reportID] = append(f.entries[reportID], records...)
	return nil
}

func (f *fakeRepo) GetEntriesByReport(ctx context.Context, reportID int64) ([]*models.ProductionRecord, error) {
	return f.entries[reportID], nil
}

func (f *fakeRepo) GetEntry(ctx context.Context, id int64) (*models.ProductionRecord, error) {
	for _, recs := range f.entries {
		for _, rec := range recs {
			if rec.ID == id {
				return rec, nil
			}
		}
	}
	return nil, &repository.NotFoundError{Resource: "report_entry", ID: fmt.Sprintf("%d", id)}
}

func (f *fakeRepo) UpdateEntry(ctx context.Context, rec *models.ProductionRecord) error {
	return nil
}

func (f *fakeRepo) DeleteEntry(ctx context.Context, id int64) error {
	return nil
}

func (f *fakeRepo) ReportIDsWithPart(ctx context.Context, partNumber string) ([]int64, error) {
	ids := make([]int64, 0)
	for reportID, recs := range f.entries {
		for _, rec := range recs {
			if rec.PartNumber == partNumber {
				ids = append(ids, reportID)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeRepo) CreateRate(ctx context.Context, rate *models.StandardRate) error {
	rate.ID = f.id()
	f.rates = append(f.rates, rate)
	return nil
}

func (f *fakeRepo) GetRate(ctx context.Context, id int64) (*models.StandardRate, error) {
	for _, r := range f.rates {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &repository.NotFoundError{Resource: "standard_rate", ID: fmt.Sprintf("%d", id)}
}

func (f *fakeRepo) ListRates(ctx context.Context, filter repository.RateFilter) ([]*models.StandardRate, int, error) {
	result := make([]*models.StandardRate, 0, len(f.rates))
	for _, r := range f.rates {
		if filter.Active != nil && r.Active != *filter.Active {
			continue
		}
		if filter.PartNumber != nil && r.PartNumber != *filter.PartNumber {
			continue
		}
		result = append(result, r)
	}
	return result, len(result), nil
}

func (f *fakeRepo) UpdateRate(ctx context.Context, rate *models.StandardRate) error {
	for i, r := range f.rates {
		if r.ID == rate.ID {
			f.rates[i] = rate
			return nil
		}
	}
	return &repository.NotFoundError{Resource: "standard_rate", ID: fmt.Sprintf("%d", rate.ID)}
}

func (f *fakeRepo) DeleteRate(ctx context.Context, id int64) error {
	for i, r := range f.rates {
		if r.ID == id {
			f.rates = append(f.rates[:i], f.rates[i+1:]...)
			return nil
		}
	}
	return &repository.NotFoundError{Resource: "standard_rate", ID: fmt.Sprintf("%d", id)}
}

func (f *fakeRepo) ActiveRatesByPart(ctx context.Context, partNumber string, asOf time.Time) ([]*models.StandardRate, error) {
	result := make([]*models.StandardRate, 0)
	for _, r := range f.rates {
		if !r.Active || r.PartNumber != partNumber {
			continue
		}
		if r.StartDate.After(asOf) {
			continue
		}
		if r.EndDate != nil && r.EndDate.Before(asOf) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (f *fakeRepo) CreateRateAudits(ctx context.Context, audits []*models.RateAudit) error {
	f.audits = append(f.audits, audits...)
	return nil
}

func (f *fakeRepo) GetRateAudits(ctx context.Context, rateID int64) ([]*models.RateAudit, error) {
	result := make([]*models.RateAudit, 0)
	for _, a := range f.audits {
		if a.RateID == rateID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (f *fakeRepo) ReplaceReportMetrics(ctx context.Context, reportID int64, computed []*models.OeeMetric) error {
	f.replaceCalls++
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.metricsByReport[reportID] = computed
	return nil
}

func (f *fakeRepo) GetMetricsByReport(ctx context.Context, reportID int64) ([]*models.OeeMetric, error) {
	return f.metricsByReport[reportID], nil
}

func (f *fakeRepo) GetMetricsByDateRange(ctx context.Context, start, end time.Time, shift string) ([]*models.OeeMetric, error) {
	result := make([]*models.OeeMetric, 0)
	for _, ms := range f.metricsByReport {
		for _, m := range ms {
			if m.Date.Before(start) || m.Date.After(end) {
				continue
			}
			if shift != "" && shift != "All" && m.Shift != shift {
				continue
			}
			result = append(result, m)
		}
	}
	return result, nil
}

func (f *fakeRepo) AvgPerformanceForPartMachine(ctx context.Context, partNumber, machine string) (*repository.PerformanceStat, error) {
	var sum float64
	var n int
	for _, ms := range f.metricsByReport {
		for _, m := range ms {
			if m.PartNumber == partNumber && m.Machine == machine {
				sum += m.Performance
				n++
			}
		}
	}
	stat := &repository.PerformanceStat{RunCount: n}
	if n > 0 {
		stat.AvgPerformance = sum / float64(n)
	}
	return stat, nil
}

func (f *fakeRepo) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	v, ok := f.settings[key]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "setting", ID: key}
	}
	return &models.Setting{Key: key, Value: v}, nil
}

func (f *fakeRepo) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	result := make([]*models.Setting, 0, len(f.settings))
	for k, v := range f.settings {
		result = append(result, &models.Setting{Key: k, Value: v})
	}
	return result, nil
}

func (f *fakeRepo) UpsertSetting(ctx context.Context, setting *models.Setting) error {
	f.settings[setting.Key] = setting.Value
	return nil
}

func (f *fakeRepo) HealthCheck(ctx context.Context) error {
	return nil
}
