package health

import "context"

// Checker reports whether some dependency is healthy. A nil error means healthy.
type Checker interface {
	Check() error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// Pinger is implemented by anything that can check a remote connection, such as a database service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker returns a Checker that pings p, giving up after the deadline set by newCtx.
func NewPingChecker(name string, p Pinger, newCtx func() (context.Context, context.CancelFunc)) Checker {
	return CheckerFunc(func() error {
		ctx, cancel := newCtx()
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return &CheckError{Name: name, Cause: err}
		}
		return nil
	})
}

// CheckError identifies which dependency failed a health check.
type CheckError struct {
	Name  string
	Cause error
}

func (e *CheckError) Error() string {
	return e.Name + " is unhealthy: " + e.Cause.Error()
}

func (e *CheckError) Unwrap() error {
	return e.Cause
}
