// Package conformity audits V4 keyword coverage against the coverage the
// legacy V2/V3 links leave to it, per gamme, and drills down into the
// vehicle variants behind any drift.
package conformity

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/autoparts/compat-engine/pkg/store"
)

// Status is the verdict of one audited gamme.
type Status string

const (
	StatusConforme    Status = "CONFORME"
	StatusNonConforme Status = "NON_CONFORME"
	// StatusError marks a gamme whose computation failed in a partitioned
	// audit. Its counters are meaningless.
	StatusError Status = "ERROR"
)

// Record is the conformity of one gamme.
type Record struct {
	GammeID      int64
	GammeName    string
	CatalogValid int64
	CoveredV2V3  int64
	ExpectedV4   int64
	ActualV4     int64
	Missing      int64
	Extras       int64
	// MissingVariants and ExtraVariants are the set differences E\A and
	// A\E, which the drill-down lists enumerate.
	MissingVariants int64
	ExtraVariants   int64
	Status          Status
	Err             string
}

// newRecord derives the verdict fields from raw counters.
func newRecord(c store.ConformityCounts) Record {
	expected := max(c.CatalogValid-c.CoveredV2V3, 0)
	r := Record{
		GammeID:         c.GammeID,
		GammeName:       c.GammeName,
		CatalogValid:    c.CatalogValid,
		CoveredV2V3:     c.CoveredV2V3,
		ExpectedV4:      expected,
		ActualV4:        c.ActualV4,
		Missing:         max(expected-c.ActualV4, 0),
		Extras:          max(c.ActualV4-expected, 0),
		MissingVariants: c.MissingVariants,
		ExtraVariants:   c.ExtraVariants,
	}
	r.Status = StatusNonConforme
	if r.Missing == 0 && r.Extras == 0 {
		r.Status = StatusConforme
	}
	return r
}

func errorRecord(g store.Gamme, err error) Record {
	return Record{GammeID: g.ID, GammeName: g.Name, Status: StatusError, Err: err.Error()}
}

// check verifies the record invariants. The last three follow from the set
// definitions: L is a subset of C, E\A and A\E are subsets of E and A, and
// |E\A| - |A\E| = |E| - |A|.
func (r Record) check() error {
	switch {
	case r.Status == StatusError:
		return nil
	case r.GammeID <= 0:
		return fmt.Errorf("pg_id %d is not positive", r.GammeID)
	case r.CatalogValid < 0 || r.CoveredV2V3 < 0 || r.ActualV4 < 0:
		return fmt.Errorf("negative population")
	case r.ExpectedV4 != max(r.CatalogValid-r.CoveredV2V3, 0):
		return fmt.Errorf("expected_v4=%d, want max(%d-%d, 0)", r.ExpectedV4, r.CatalogValid, r.CoveredV2V3)
	case r.Missing != max(r.ExpectedV4-r.ActualV4, 0):
		return fmt.Errorf("missing=%d, want max(%d-%d, 0)", r.Missing, r.ExpectedV4, r.ActualV4)
	case r.Extras != max(r.ActualV4-r.ExpectedV4, 0):
		return fmt.Errorf("extras=%d, want max(%d-%d, 0)", r.Extras, r.ActualV4, r.ExpectedV4)
	case (r.Status == StatusConforme) != (r.Missing == 0 && r.Extras == 0):
		return fmt.Errorf("status %s disagrees with missing=%d extras=%d", r.Status, r.Missing, r.Extras)
	case r.CoveredV2V3 > r.CatalogValid:
		return fmt.Errorf("covered_v2v3=%d exceeds catalog_valid=%d", r.CoveredV2V3, r.CatalogValid)
	case r.MissingVariants < 0 || r.MissingVariants > r.ExpectedV4:
		return fmt.Errorf("missing_variants=%d outside [0, %d]", r.MissingVariants, r.ExpectedV4)
	case r.ExtraVariants < 0 || r.ExtraVariants > r.ActualV4:
		return fmt.Errorf("extra_variants=%d outside [0, %d]", r.ExtraVariants, r.ActualV4)
	case r.MissingVariants-r.ExtraVariants != r.ExpectedV4-r.ActualV4:
		return fmt.Errorf("set differences %d/%d do not reconcile with expected_v4=%d actual_v4=%d",
			r.MissingVariants, r.ExtraVariants, r.ExpectedV4, r.ActualV4)
	}
	return nil
}

// Netted reports whether the arithmetic counters hide drift in both
// directions: some expected variants are missing while others are extra.
func (r Record) Netted() bool {
	return r.MissingVariants > 0 && r.ExtraVariants > 0
}

type recordJSON struct {
	GammeID         int64  `json:"pg_id"`
	GammeName       string `json:"pg_name"`
	CatalogValid    *int64 `json:"catalog_valid"`
	CoveredV2V3     *int64 `json:"covered_v2v3"`
	ExpectedV4      *int64 `json:"expected_v4"`
	ActualV4        *int64 `json:"actual_v4"`
	Missing         *int64 `json:"missing"`
	Extras          *int64 `json:"extras"`
	MissingVariants *int64 `json:"missing_variants"`
	ExtraVariants   *int64 `json:"extra_variants"`
	Status          Status `json:"status"`
	Err             string `json:"error,omitempty"`
}

// MarshalJSON writes counters as null for ERROR records so a failed gamme
// can never be read as a zero-valued one.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{GammeID: r.GammeID, GammeName: r.GammeName, Status: r.Status, Err: r.Err}
	if r.Status != StatusError {
		out.CatalogValid = &r.CatalogValid
		out.CoveredV2V3 = &r.CoveredV2V3
		out.ExpectedV4 = &r.ExpectedV4
		out.ActualV4 = &r.ActualV4
		out.Missing = &r.Missing
		out.Extras = &r.Extras
		out.MissingVariants = &r.MissingVariants
		out.ExtraVariants = &r.ExtraVariants
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON; null counters decode as zero.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	deref := func(p *int64) int64 {
		if p == nil {
			return 0
		}
		return *p
	}
	*r = Record{
		GammeID:         in.GammeID,
		GammeName:       in.GammeName,
		CatalogValid:    deref(in.CatalogValid),
		CoveredV2V3:     deref(in.CoveredV2V3),
		ExpectedV4:      deref(in.ExpectedV4),
		ActualV4:        deref(in.ActualV4),
		Missing:         deref(in.Missing),
		Extras:          deref(in.Extras),
		MissingVariants: deref(in.MissingVariants),
		ExtraVariants:   deref(in.ExtraVariants),
		Status:          in.Status,
		Err:             in.Err,
	}
	return nil
}

// Summary holds the audit KPIs.
type Summary struct {
	Total        int     `json:"total"`
	Conformes    int     `json:"conformes"`
	NonConformes int     `json:"nonConformes"`
	Errored      int     `json:"errored"`
	Coverage     float64 `json:"coverageGlobal"`
}

// Summarize computes the KPIs. Coverage is the mean of
// (covered_v2v3 + actual_v4) / catalog_valid * 100 over gammes with a
// non-empty catalog, rounded to two decimals; ERROR records and empty
// gammes are left out of the mean. With no eligible gamme it is 0.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records)}
	var sum float64
	var n int
	for _, r := range records {
		switch r.Status {
		case StatusConforme:
			s.Conformes++
		case StatusNonConforme:
			s.NonConformes++
		case StatusError:
			s.Errored++
			continue
		}
		if r.CatalogValid > 0 {
			sum += float64(r.CoveredV2V3+r.ActualV4) / float64(r.CatalogValid) * 100
			n++
		}
	}
	if n > 0 {
		s.Coverage = math.Round(sum/float64(n)*100) / 100
	}
	return s
}
