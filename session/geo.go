package session

import "context"

// Locator resolves an IP address to a Location. Implementations return
// ErrLocationUnavailable (optionally wrapped) when no answer is available;
// they must not substitute placeholder data.
type Locator interface {
	Locate(ctx context.Context, ip string) (*Location, error)
}

// NoopLocator never resolves anything.
type NoopLocator struct{}

func (NoopLocator) Locate(context.Context, string) (*Location, error) {
	return nil, ErrLocationUnavailable
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, ip string) (*Location, error)

func (f LocatorFunc) Locate(ctx context.Context, ip string) (*Location, error) {
	return f(ctx, ip)
}
