package usecase

import (
	"fmt"

	"github.com/user/district-metrics/internal/domain"
)

// BasicRecordValidator implements domain.RecordValidator with structural
// checks: district identity, non-negative counters and duplicate detection.
// Business-rule scoring happens downstream and is out of scope here.
type BasicRecordValidator struct{}

// NewBasicRecordValidator creates the default validator.
func NewBasicRecordValidator() *BasicRecordValidator {
	return &BasicRecordValidator{}
}

// Validate checks a fetched record set before it is committed to a snapshot.
func (v *BasicRecordValidator) Validate(records []domain.DistrictRecord) domain.ValidationResult {
	res := domain.ValidationResult{IsValid: true}
	seen := make(map[string]bool, len(records))

	for i, r := range records {
		if r.DistrictID == "" {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("record %d has no district id", i))
			continue
		}
		if seen[r.DistrictID] {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate district %s", r.DistrictID))
			continue
		}
		seen[r.DistrictID] = true

		counts := map[string]int{
			"total_membership":    r.TotalMembership,
			"membership_base":     r.MembershipBase,
			"paid_clubs":          r.PaidClubs,
			"active_clubs":        r.ActiveClubs,
			"suspended_clubs":     r.SuspendedClubs,
			"low_member_clubs":    r.LowMemberClubs,
			"distinguished_clubs": r.DistinguishedClubs,
			"education_awards":    r.EducationAwards,
		}
		for field, value := range counts {
			if value < 0 {
				res.IsValid = false
				res.Errors = append(res.Errors, fmt.Sprintf("district %s: negative %s", r.DistrictID, field))
			}
		}

		if r.TotalMembership == 0 && r.ActiveClubs > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("district %s reports active clubs but zero membership", r.DistrictID))
		}
	}
	return res
}
