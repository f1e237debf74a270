package enums

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	TransactionKindDeposit TransactionKind = "DEPOSIT"
	TransactionKindDeduct  TransactionKind = "DEDUCT"
	TransactionKindRefund  TransactionKind = "REFUND"
	TransactionKindBonus   TransactionKind = "BONUS"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindDeposit,
	TransactionKindDeduct,
	TransactionKindRefund,
	TransactionKindBonus,
}

func (k TransactionKind) String() string {
	return string(k)
}

func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsCredit reports whether the kind adds to the balance.
func (k TransactionKind) IsCredit() bool {
	return k != TransactionKindDeduct
}

// ReferenceKind is the second half of a transaction's idempotency key.
type ReferenceKind string

const (
	ReferenceKindJob       ReferenceKind = "JOB"
	ReferenceKindJobRefund ReferenceKind = "JOB_REFUND"
	ReferenceKindPayment   ReferenceKind = "PAYMENT"
	ReferenceKindBonus     ReferenceKind = "BONUS"
)

var validReferenceKinds = []ReferenceKind{
	ReferenceKindJob,
	ReferenceKindJobRefund,
	ReferenceKindPayment,
	ReferenceKindBonus,
}

func (k ReferenceKind) IsValid() bool {
	for _, candidate := range validReferenceKinds {
		if candidate == k {
			return true
		}
	}
	return false
}
