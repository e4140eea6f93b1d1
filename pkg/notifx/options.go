package notifx

// SendOptions holds optional configuration for a send operation.
type SendOptions struct {
	Tag string
}

// Option is a functional option for send operations.
type Option func(*SendOptions)

// WithTag labels the message for provider-side analytics.
func WithTag(tag string) Option {
	return func(o *SendOptions) {
		o.Tag = tag
	}
}

// ApplySendOptions folds opts into a SendOptions value. Providers call it.
func ApplySendOptions(opts []Option) SendOptions {
	var so SendOptions
	for _, o := range opts {
		o(&so)
	}
	return so
}
