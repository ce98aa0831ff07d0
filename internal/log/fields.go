package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldOwner     = "owner"
	FieldError     = "error"
	FieldOperation = "operation"
	FieldCurrency  = "currency"
	FieldFrom      = "from"
	FieldTo        = "to"
	FieldRate      = "rate"
	FieldAmount    = "amount"
	FieldTxID      = "transaction_id"
	FieldMethodID  = "payment_method_id"
	FieldBudgetID  = "budget_id"
	FieldDuration  = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentLedger  = "ledger"
	ComponentRates   = "rates"
	ComponentBudget  = "budget"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
)
