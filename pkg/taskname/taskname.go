package taskname

const (
	// Payment tasks
	PaymentNotify = "payment:notify"

	// Accrual tasks
	AccrualRecompute = "accrual:recompute"
)
