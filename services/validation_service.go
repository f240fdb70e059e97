package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keap-export/config"
	"keap-export/models"
)

// CheckResult is the outcome of a single validation check.
type CheckResult struct {
	Name          string `json:"name"`
	Informational bool   `json:"informational"`
	Findings      int    `json:"findings"`
	Detail        string `json:"detail,omitempty"`
}

// Passed reports whether the check is clean or merely informational.
func (c *CheckResult) Passed() bool {
	return c.Informational || c.Findings == 0
}

// ValidationReport aggregates the full check battery for one run.
type ValidationReport struct {
	RunID  uint64        `json:"run_id,omitempty"`
	Checks []CheckResult `json:"checks"`
	Passed bool          `json:"passed"`
}

func (r *ValidationReport) FailingChecks() int {
	n := 0
	for i := range r.Checks {
		if !r.Checks[i].Passed() {
			n++
		}
	}
	return n
}

// ValidationService runs read-only consistency checks over the
// exported tables: referential integrity, order reconciliation, and a
// few informational signals. It never mutates exported data.
type ValidationService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewValidationService(db *gorm.DB, logger *zap.Logger) *ValidationService {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationService{db: db, logger: logger}
}

// ValidateRun executes the full battery. The run id is only used to
// compare tracker counters against table contents; the integrity
// checks look at the whole store.
func (v *ValidationService) ValidateRun(ctx context.Context, runID uint64) (*ValidationReport, error) {
	report := &ValidationReport{RunID: runID}

	orphanChecks := []struct {
		name  string
		query string
	}{
		{
			"contacts_dangling_company",
			`SELECT COUNT(*) FROM contacts c
			 WHERE c.company_id IS NOT NULL
			   AND NOT EXISTS (SELECT 1 FROM companies x WHERE x.id = c.company_id)`,
		},
		{
			"contacts_dangling_owner",
			`SELECT COUNT(*) FROM contacts c
			 WHERE c.owner_id IS NOT NULL
			   AND NOT EXISTS (SELECT 1 FROM keap_users x WHERE x.id = c.owner_id)`,
		},
		{
			"companies_dangling_owner",
			`SELECT COUNT(*) FROM companies c
			 WHERE c.owner_id IS NOT NULL
			   AND NOT EXISTS (SELECT 1 FROM keap_users x WHERE x.id = c.owner_id)`,
		},
		{
			"contact_tags_dangling_contact",
			`SELECT COUNT(*) FROM contact_tags ct
			 WHERE NOT EXISTS (SELECT 1 FROM contacts x WHERE x.id = ct.contact_id)`,
		},
		{
			"contact_tags_dangling_tag",
			`SELECT COUNT(*) FROM contact_tags ct
			 WHERE NOT EXISTS (SELECT 1 FROM tags x WHERE x.id = ct.tag_id)`,
		},
		{
			"opportunities_dangling_contact",
			`SELECT COUNT(*) FROM opportunities o
			 WHERE o.contact_id IS NOT NULL
			   AND NOT EXISTS (SELECT 1 FROM contacts x WHERE x.id = o.contact_id)`,
		},
		{
			"orders_dangling_contact",
			`SELECT COUNT(*) FROM orders o
			 WHERE o.contact_id IS NOT NULL
			   AND NOT EXISTS (SELECT 1 FROM contacts x WHERE x.id = o.contact_id)`,
		},
		{
			"order_items_dangling_order",
			`SELECT COUNT(*) FROM order_items oi
			 WHERE NOT EXISTS (SELECT 1 FROM orders x WHERE x.id = oi.order_id)`,
		},
	}
	for _, check := range orphanChecks {
		n, err := v.countQuery(ctx, check.query)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", check.name, err)
		}
		report.Checks = append(report.Checks, CheckResult{Name: check.name, Findings: n})
	}

	// cross-object consistency: when an opportunity carries both a
	// contact and a company, the contact must belong to that company
	crossObject, err := v.countQuery(ctx, `
		SELECT COUNT(*) FROM opportunities o
		JOIN contacts c ON c.id = o.contact_id
		WHERE o.company_id IS NOT NULL
		  AND c.company_id IS NOT NULL
		  AND o.company_id <> c.company_id`)
	if err != nil {
		return nil, fmt.Errorf("check opportunities_company_mismatch: %w", err)
	}
	report.Checks = append(report.Checks, CheckResult{
		Name:     "opportunities_company_mismatch",
		Findings: crossObject,
	})

	dupEmails, err := v.countQuery(ctx, `
		SELECT COUNT(*) FROM (
			SELECT email FROM contacts
			WHERE email IS NOT NULL AND email <> ''
			GROUP BY email HAVING COUNT(*) > 1
		) d`)
	if err != nil {
		return nil, fmt.Errorf("check contacts_duplicate_email: %w", err)
	}
	report.Checks = append(report.Checks, CheckResult{
		Name:          "contacts_duplicate_email",
		Informational: true,
		Findings:      dupEmails,
	})

	mismatched, err := v.reconcileOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("check orders_total_mismatch: %w", err)
	}
	report.Checks = append(report.Checks, mismatched)

	coverage, err := v.companiesCoverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("check companies_without_contacts: %w", err)
	}
	report.Checks = append(report.Checks, coverage)

	tagless, err := v.countQuery(ctx, `
		SELECT COUNT(*) FROM contacts c
		WHERE NOT EXISTS (SELECT 1 FROM contact_tags ct WHERE ct.contact_id = c.id)`)
	if err != nil {
		return nil, fmt.Errorf("check contacts_without_tags: %w", err)
	}
	report.Checks = append(report.Checks, CheckResult{
		Name:          "contacts_without_tags",
		Informational: true,
		Findings:      tagless,
	})

	if runID != 0 {
		drift, err := v.sourceCountDrift(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("check source_count_drift: %w", err)
		}
		report.Checks = append(report.Checks, drift...)
	}

	report.Passed = true
	for i := range report.Checks {
		c := &report.Checks[i]
		if !c.Passed() {
			report.Passed = false
		}
		v.logger.Info("validation_check",
			zap.String("check", c.Name),
			zap.Int("findings", c.Findings),
			zap.Bool("informational", c.Informational),
		)
	}
	return report, nil
}

func (v *ValidationService) countQuery(ctx context.Context, query string) (int, error) {
	var n int
	if err := v.db.WithContext(ctx).Raw(query).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// reconcileOrders compares each order's stored total against the sum
// of its line items, tolerating a one-cent rounding difference. Orders
// with no items or no total are left to the informational checks.
func (v *ValidationService) reconcileOrders(ctx context.Context) (CheckResult, error) {
	type row struct {
		ID       int64
		Total    string
		ItemsSum string
	}
	var rows []row
	err := v.db.WithContext(ctx).Raw(`
		SELECT o.id AS id, o.total AS total, SUM(oi.price * oi.quantity) AS items_sum
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.total IS NOT NULL
		GROUP BY o.id, o.total`).Scan(&rows).Error
	if err != nil {
		return CheckResult{}, err
	}

	tolerance := decimal.NewFromFloat(0.01)
	mismatched := 0
	var first string
	for _, r := range rows {
		total, err := decimal.NewFromString(r.Total)
		if err != nil {
			continue
		}
		sum, err := decimal.NewFromString(r.ItemsSum)
		if err != nil {
			continue
		}
		if total.Sub(sum).Abs().GreaterThan(tolerance) {
			mismatched++
			if first == "" {
				first = fmt.Sprintf("order %d: total %s vs items %s", r.ID, total, sum)
			}
		}
	}
	return CheckResult{Name: "orders_total_mismatch", Findings: mismatched, Detail: first}, nil
}

// companiesCoverage counts companies with no contact attached and
// reports the coverage ratio. Low coverage is a signal about the
// source data, not an export defect.
func (v *ValidationService) companiesCoverage(ctx context.Context) (CheckResult, error) {
	total, err := v.countQuery(ctx, `SELECT COUNT(*) FROM companies`)
	if err != nil {
		return CheckResult{}, err
	}
	uncovered, err := v.countQuery(ctx, `
		SELECT COUNT(*) FROM companies co
		WHERE NOT EXISTS (SELECT 1 FROM contacts c WHERE c.company_id = co.id)`)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{
		Name:          "companies_without_contacts",
		Informational: true,
		Findings:      uncovered,
	}
	if total > 0 {
		result.Detail = fmt.Sprintf("%d of %d companies have at least one contact", total-uncovered, total)
	}
	return result, nil
}

// sourceCountDrift compares the count the source reported per entity
// against the tracker's processed counter for the run. Drift is
// informational: deletions upstream mid-run produce it legitimately.
func (v *ValidationService) sourceCountDrift(ctx context.Context, runID uint64) ([]CheckResult, error) {
	var counts []models.SourceCount
	if err := v.db.WithContext(ctx).Where("run_id = ?", runID).Find(&counts).Error; err != nil {
		return nil, err
	}
	var progress []models.SyncProgress
	if err := v.db.WithContext(ctx).Where("run_id = ?", runID).Find(&progress).Error; err != nil {
		return nil, err
	}
	processed := make(map[string]int, len(progress))
	for _, p := range progress {
		processed[p.Entity] = p.ItemsProcessed
	}

	var results []CheckResult
	for _, c := range counts {
		diff := c.ItemsRetrieved - processed[c.Entity]
		if diff < 0 {
			diff = -diff
		}
		result := CheckResult{
			Name:          "source_count_drift_" + c.Entity,
			Informational: true,
			Findings:      diff,
		}
		if diff != 0 {
			result.Detail = fmt.Sprintf("retrieved %d, processed %d", c.ItemsRetrieved, processed[c.Entity])
		}
		results = append(results, result)
	}
	return results, nil
}
