package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"patternline/internal/domain"
)

// saveReportTx keeps the latest report per submission.
func (r Repo) saveReportTx(ctx context.Context, tx *sql.Tx, report domain.ValidationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validation_reports(submission_id,generated_at,overall_valid,status,report_json) VALUES (?,?,?,?,?)
ON CONFLICT(submission_id) DO UPDATE SET generated_at=excluded.generated_at, overall_valid=excluded.overall_valid, status=excluded.status, report_json=excluded.report_json`,
		report.SubmissionID, formatTime(report.GeneratedAt), boolInt(report.OverallValid), string(report.Status), string(data))
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (r Repo) GetReport(ctx context.Context, submissionID string) (domain.ValidationReport, error) {
	var data string
	err := r.DB.QueryRowContext(ctx, `SELECT report_json FROM validation_reports WHERE submission_id=?`, submissionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ValidationReport{}, ErrNotFound
	}
	if err != nil {
		return domain.ValidationReport{}, err
	}
	var report domain.ValidationReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return domain.ValidationReport{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
