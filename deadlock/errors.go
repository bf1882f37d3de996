package deadlock

import "github.com/driverkit/coord/halerr"

// IsQueued reports whether err means the resource was owned and the request
// was added to the waiting queue. The request will be re-attempted when the
// resource is released, or purged once its timeout elapses.
func IsQueued(err error) bool {
	return halerr.CodeOf(err) == "QUEUED"
}

// IsWouldDeadlock reports whether err means the request was rejected
// outright because granting it could contribute to a deadlock. Retry after
// releasing resources or with a different acquisition order.
func IsWouldDeadlock(err error) bool {
	return halerr.CodeOf(err) == "WOULD_DEADLOCK"
}
