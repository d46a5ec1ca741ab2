package model

// StepKind identifies a checkout step pushed to the step delegate.
type StepKind string

const (
	StepLoading               StepKind = "loading"
	StepBanksRetrieved        StepKind = "banks_retrieved"
	StepDataCollection        StepKind = "data_collection"
	StepUserDetailsCollection StepKind = "user_details_collection"
	StepBankAccountCollection StepKind = "bank_account_collection"
	StepMandateAcceptance     StepKind = "mandate_acceptance"
	StepProcessing            StepKind = "processing"
	StepAwaitingRedirect      StepKind = "awaiting_redirect"
	StepAwaitingChallenge     StepKind = "awaiting_challenge"
	StepSubmissionFailed      StepKind = "submission_failed"
	StepSuccess               StepKind = "success"
	StepFailure               StepKind = "failure"
	StepCancelled             StepKind = "cancelled"
)

// IsTerminal reports whether the step ends the flow. SubmissionFailed is not
// terminal: the flow returns to data collection so the user can resubmit.
func (k StepKind) IsTerminal() bool {
	switch k {
	case StepSuccess, StepFailure, StepCancelled:
		return true
	default:
		return false
	}
}

// CheckoutStep is one step in a checkout flow, pushed to the step delegate in
// strict transition order. Payload fields are set per kind.
type CheckoutStep struct {
	Kind          StepKind            `json:"kind"`
	Banks         []Bank              `json:"banks,omitempty"`
	RedirectURL   string              `json:"redirect_url,omitempty"`
	Token         *PaymentMethodToken `json:"token,omitempty"`
	Message       string              `json:"message,omitempty"`
	DiagnosticsID string              `json:"diagnostics_id,omitempty"`
}
