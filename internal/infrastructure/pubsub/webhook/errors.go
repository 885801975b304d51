package webhookpubsub

import "errors"

var (
	// ErrInvalidEndpoint is returned if a webhook endpoint is not a valid URI.
	ErrInvalidEndpoint = errors.New("webhook endpoint must be a valid URI")
	// ErrInvalidTopic is returned whenever attempting to subscribe to an unknown
	// topic.
	ErrInvalidTopic = errors.New("topic is invalid")
	// ErrPublisherClosed is returned when publishing after Close.
	ErrPublisherClosed = errors.New("publisher is closed")
)
