package sync

import "fmt"

// EngineError wraps a fatal run failure with a dotted operation code.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

func (e *EngineError) Code() string {
	return e.code
}

const (
	opWriterNew    = "sync.writer.new"
	opWriterApply  = "sync.writer.apply"
	opImportRun    = "sync.import"
	opUpdateRun    = "sync.update"
	opReconcileRun = "sync.reconcile"
)

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
