package capture

import "context"

// Authorizer answers whether microphone capture is permitted. The check runs
// before any device access is attempted; a denial is fatal to session start.
type Authorizer interface {
	Authorized(ctx context.Context) (bool, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context) (bool, error)

func (f AuthorizerFunc) Authorized(ctx context.Context) (bool, error) { return f(ctx) }

// DeviceAuthorizer treats a reachable input device as authorization. There
// is no portable microphone-permission API, so probing the device is the
// closest observable signal: an OS-level denial surfaces as a probe failure.
func DeviceAuthorizer(src Source) Authorizer {
	return AuthorizerFunc(func(ctx context.Context) (bool, error) {
		if err := src.Probe(); err != nil {
			return false, err
		}
		return true, nil
	})
}
