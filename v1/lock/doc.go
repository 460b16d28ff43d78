// Package lock serializes writers of the same record. The in-memory
// implementation covers a single process; the Redis implementation
// coordinates several tracker processes sharing one store and announces
// releases on a syncbus topic so waiters do not have to poll.
package lock
