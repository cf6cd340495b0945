// Package system defines the extensibility contract every middleware
// adapter implements: the SystemHandle configure/liveness/polling lifecycle,
// the capability interfaces for topic and service traffic, the proxy and
// callback shapes that cross between adapters and the router, and the
// explicit factory registry the bridge instantiates adapters through.
//
// Adapters implement capabilities selectively. A topics-only middleware
// implements TopicPublisherSystem and/or TopicSubscriberSystem; a services-
// only middleware implements ServiceClientSystem and/or
// ServiceProviderSystem. The router discovers what an adapter can do by
// type assertion, never by configuration flags.
package system
