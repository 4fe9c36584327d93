package ledger

const (
	operationCharge  = "charge"
	operationUse     = "use"
	operationRecover = "recover"
	operationStore   = "store"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusRepaired = "repaired"
	entryStatusDiscarded    = "discarded"

	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectService     = "service"
	errorSubjectTransaction = "transaction"

	errorCodeRead         = "read"
	errorCodeWrite        = "write"
	errorCodeAppend       = "append"
	errorCodeCommit       = "commit"
	errorCodeDiscard      = "discard"
	errorCodeList         = "list"
	errorCodeOverflow     = "overflow"
	errorCodeInconsistent = "inconsistent"

	defaultHistoryPageSize = 200
)
