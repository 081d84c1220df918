package model

import (
	"database/sql"
	"fmt"
	"strings"
)

// Dimension names the slice a segment belongs to.
type Dimension string

const (
	DimensionOverall   Dimension = "overall"
	DimensionTreatment Dimension = "treatment"
	DimensionCountry   Dimension = "country"
	DimensionLanguage  Dimension = "language"
)

// Dimensions lists the materialized slices.
func Dimensions() []Dimension {
	return []Dimension{DimensionOverall, DimensionTreatment, DimensionCountry, DimensionLanguage}
}

// SegmentKey identifies one stats row. At most one of TreatmentID, Country and
// Language is set. The type is comparable and used as a map key.
type SegmentKey struct {
	HospitalID  int64
	TreatmentID sql.NullInt64
	Country     sql.NullString
	Language    sql.NullString
	Period      Period
}

// Dimension derives the slice from which optional field is set.
func (k SegmentKey) Dimension() Dimension {
	switch {
	case k.TreatmentID.Valid:
		return DimensionTreatment
	case k.Country.Valid:
		return DimensionCountry
	case k.Language.Valid:
		return DimensionLanguage
	default:
		return DimensionOverall
	}
}

// Check rejects keys no event can produce: more than one dimension, a blank
// country or language, or a non-positive treatment id.
func (k SegmentKey) Check() error {
	set := 0
	if k.TreatmentID.Valid {
		set++
		if k.TreatmentID.Int64 <= 0 {
			return fmt.Errorf("segment %s: treatment id must be positive", k)
		}
	}
	for _, v := range []sql.NullString{k.Country, k.Language} {
		if !v.Valid {
			continue
		}
		set++
		if strings.TrimSpace(v.String) == "" || v.String != strings.TrimSpace(v.String) {
			return fmt.Errorf("segment %s: dimension value must be trimmed and non-blank", k)
		}
	}
	if set > 1 {
		return fmt.Errorf("segment %s: more than one dimension set", k)
	}
	return nil
}

// Less orders keys by hospital, period, dimension, then dimension value.
func (k SegmentKey) Less(o SegmentKey) bool {
	if k.HospitalID != o.HospitalID {
		return k.HospitalID < o.HospitalID
	}
	if k.Period != o.Period {
		return k.Period < o.Period
	}
	kd, od := dimensionOrder(k.Dimension()), dimensionOrder(o.Dimension())
	if kd != od {
		return kd < od
	}
	switch k.Dimension() {
	case DimensionTreatment:
		return k.TreatmentID.Int64 < o.TreatmentID.Int64
	case DimensionCountry:
		return k.Country.String < o.Country.String
	case DimensionLanguage:
		return k.Language.String < o.Language.String
	}
	return false
}

func dimensionOrder(d Dimension) int {
	switch d {
	case DimensionOverall:
		return 0
	case DimensionTreatment:
		return 1
	case DimensionCountry:
		return 2
	default:
		return 3
	}
}

func (k SegmentKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hospital=%d period=%s", k.HospitalID, k.Period)
	switch k.Dimension() {
	case DimensionTreatment:
		fmt.Fprintf(&b, " treatment=%d", k.TreatmentID.Int64)
	case DimensionCountry:
		fmt.Fprintf(&b, " country=%s", k.Country.String)
	case DimensionLanguage:
		fmt.Fprintf(&b, " language=%s", k.Language.String)
	}
	return b.String()
}

// Filter selects one materialized slice. A nil field means the stored value must
// also be null; it is not a wildcard.
type Filter struct {
	TreatmentID *int64
	Country     *string
	Language    *string
}

// Matches reports whether the key belongs to exactly the filtered slice.
func (f Filter) Matches(k SegmentKey) bool {
	return matchInt(f.TreatmentID, k.TreatmentID) &&
		matchString(f.Country, k.Country) &&
		matchString(f.Language, k.Language)
}

// Materialized reports whether the filter names a slice that refreshes produce:
// overall or exactly one extra dimension.
func (f Filter) Materialized() bool {
	n := 0
	if f.TreatmentID != nil {
		n++
	}
	if f.Country != nil {
		n++
	}
	if f.Language != nil {
		n++
	}
	return n <= 1
}

func matchInt(want *int64, got sql.NullInt64) bool {
	if want == nil {
		return !got.Valid
	}
	return got.Valid && got.Int64 == *want
}

func matchString(want *string, got sql.NullString) bool {
	if want == nil {
		return !got.Valid
	}
	return got.Valid && got.String == *want
}
