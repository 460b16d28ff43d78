package record

import (
	"fmt"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
)

// Field names a data column of the batch tracker.
type Field string

const (
	PlanYear              Field = "plan_year"
	PackYear              Field = "pack_year"
	WeekStartDate         Field = "week_start_date"
	Week                  Field = "week"
	Product               Field = "product"
	Category              Field = "category"
	Type                  Field = "type"
	UOM                   Field = "uom"
	Strain                Field = "strain"
	ProductionPlan        Field = "production_plan"
	DistillateOilUsed     Field = "distillate_oil_used"
	BatchStatus           Field = "batch_status"
	Reason                Field = "reason"
	OriginalOilBatch      Field = "original_oil_batch"
	FormulationBatchNo    Field = "formulation_batch_no"
	Weight                Field = "wt"
	EstUnits              Field = "est_units"
	FinishedGoodsBarcode  Field = "finished_goods_barcode"
	SampleDate            Field = "sample_date"
	StagingStatus         Field = "staging_status"
	DocumentNo            Field = "document_no"
	StagingNotes          Field = "staging_notes"
	PackagingStatus       Field = "packaging_status"
	TotalUnitsPackage     Field = "total_units_package"
	ThirdPartySampleUnits Field = "third_party_sample_units"
	PackagingFinalUnits   Field = "packaging_final_units"
	PackagedDate          Field = "packaged_date"
	PackagedWeek          Field = "packaged_week"
	SampleSubmissionDate  Field = "sample_submission_date"
	EstHubLanding         Field = "est_hub_landing"
	Lab                   Field = "lab"
)

// Fields is the fixed, ordered set of data columns. The fully-locked
// predicate is evaluated over exactly these.
var Fields = []Field{
	PlanYear, PackYear, WeekStartDate, Week, Product, Category, Type, UOM,
	Strain, ProductionPlan, DistillateOilUsed, BatchStatus, Reason,
	OriginalOilBatch, FormulationBatchNo, Weight, EstUnits,
	FinishedGoodsBarcode, SampleDate, StagingStatus, DocumentNo, StagingNotes,
	PackagingStatus, TotalUnitsPackage, ThirdPartySampleUnits,
	PackagingFinalUnits, PackagedDate, PackagedWeek, SampleSubmissionDate,
	EstHubLanding, Lab,
}

// Kind classifies how a field value is stored.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "text"
	}
}

var kinds = map[Field]Kind{
	PlanYear:              KindNumber,
	PackYear:              KindNumber,
	WeekStartDate:         KindDate,
	Week:                  KindNumber,
	ProductionPlan:        KindNumber,
	DistillateOilUsed:     KindNumber,
	Weight:                KindNumber,
	EstUnits:              KindNumber,
	SampleDate:            KindDate,
	DocumentNo:            KindNumber,
	TotalUnitsPackage:     KindNumber,
	ThirdPartySampleUnits: KindNumber,
	PackagingFinalUnits:   KindNumber,
	PackagedDate:          KindDate,
	PackagedWeek:          KindNumber,
	SampleSubmissionDate:  KindDate,
	EstHubLanding:         KindDate,
}

var known = func() map[Field]struct{} {
	m := make(map[Field]struct{}, len(Fields))
	for _, f := range Fields {
		m[f] = struct{}{}
	}
	return m
}()

// Kind returns the storage kind of f. Unknown fields are text.
func (f Field) Kind() Kind {
	return kinds[f]
}

// Valid reports whether f belongs to the fixed field set.
func (f Field) Valid() bool {
	_, ok := known[f]
	return ok
}

func (f Field) String() string { return string(f) }

// ParseField converts a column name into a Field.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown field %q: %w", s, gerrors.ErrValidation)
	}
	return f, nil
}
