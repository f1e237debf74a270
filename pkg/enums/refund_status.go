package enums

// RefundStatus is the outcome of a refund request. None of the values is an error.
type RefundStatus string

const (
	RefundStatusRefunded        RefundStatus = "refunded"
	RefundStatusAlreadyRefunded RefundStatus = "already_refunded"
	RefundStatusNotEligible     RefundStatus = "not_eligible"
)

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// CreditStatus is the outcome of a deposit or bonus grant.
type CreditStatus string

const (
	CreditStatusApplied   CreditStatus = "applied"
	CreditStatusDuplicate CreditStatus = "duplicate"
)

func (c CreditStatus) String() string {
	return string(c)
}
