package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a ledger operation and its outcome.
type OperationLog struct {
	Operation string
	UserID    UserID
	Amount    PositiveAmount
	Point     Point
	EntryID   EntryID
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithTransactor runs every mutation inside a single store transaction.
func WithTransactor(transactor Transactor) ServiceOption {
	return func(service *Service) {
		service.transactor = transactor
	}
}

// WithHistoryPageSize sets how many entries are fetched per history page.
func WithHistoryPageSize(pageSize int) ServiceOption {
	return func(service *Service) {
		if pageSize > 0 {
			service.pageSize = pageSize
		}
	}
}
