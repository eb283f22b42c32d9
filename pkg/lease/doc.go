// Package lease provides time-bounded exclusivity on (policy, entity) pairs.
//
// A lease is acquired with a short TTL before an evaluation begins and
// released when it finishes. Failing to acquire is not an error: the pair is
// being processed elsewhere and the caller moves on. Expired leases can be
// taken over, so a crashed holder blocks its pair for at most one TTL.
//
// Backends:
//
//   - storage/memory: a single process
//   - storage/sqlstore: a policy_leases table shared by every engine on the
//     same database
//   - lease/redis: SET NX PX with a compare-and-delete release
package lease
