package booking

const (
	operationCreateBooking = "create_booking"
	operationTransition    = "transition_status"
	operationCreatePayment = "create_payment_intent"
	operationUpdatePayment = "update_payment_status"
	operationReconcile     = "reconcile_payment"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusIgnored = "ignored"

	errorOperationService = "service"
	errorSubjectBooking   = "booking"
	errorSubjectReference = "reference"
	errorCodeGenerate     = "generate"
	errorCodeQueue        = "queue"

	// DefaultProviderName is used when a payment intent names no provider.
	DefaultProviderName = "manual"

	referencePrefix        = "YONO"
	referenceTimeDigits    = 8
	referenceRandomBytes   = 2
	maxReferenceAttempts   = 3
	metadataKeyPaymentID   = "paymentId"
	metadataKeyProviderRef = "providerPaymentId"
)
