package types

import "github.com/go-playground/validator/v10"

// AnalyzePlanRequest is the input of one analysis run.
type AnalyzePlanRequest struct {
	PlanID               string   `json:"plan_id" validate:"required"`
	ReferenceDocumentIDs []string `json:"reference_document_ids" validate:"required,min=1,dive,required"`
}

// Validate validates the AnalyzePlanRequest using the validator.
func (r *AnalyzePlanRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ReconcileRequest selects the reference documents whose requirements are reconciled.
type ReconcileRequest struct {
	ReferenceDocumentIDs []string `json:"reference_document_ids" validate:"required,min=1,dive,required"`
}

// Validate validates the ReconcileRequest using the validator.
func (r *ReconcileRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
