package env

// NewDefaultProvider returns the provider chain used to snapshot a
// session's working environment, per spec.md §3's Context.Env: process
// environment variables, wrapped so a lookup failure never aborts
// session creation.
func NewDefaultProvider() Provider {
	return NewNoFailProvider(NewMultiProvider(
		NewEnvVariableProvider(),
	))
}
