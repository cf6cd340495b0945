// Package redismw is the Redis middleware adapter. Topics map to Redis
// pub/sub channels carrying proto wire payloads; services use a per-service
// request channel with JSON envelopes holding a correlation id and the
// caller's reply channel. Background receiver goroutines park the inbound
// traffic on a bounded queue that SpinOnce drains, so router callbacks run
// synchronously within the polling loop while responses may be delivered
// from any goroutine.
package redismw
