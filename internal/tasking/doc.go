// Package tasking stores command streams, the commands issued on them and
// the status reports those commands produce.
//
// # Command streams
//
// A command stream is the definition of one control input of a system,
// valid for a period of time. StreamStore keeps at most one definition in
// effect per (system, control input) at any instant: adding a newer
// definition narrows every overlapping older one to end where the new one
// begins. A definition that would begin before one it overlaps is rejected
// with ErrFullOverlap and nothing is written.
//
// Point lookups go through a bounded cache with idle expiry. Writes
// invalidate cache entries after they commit; the cache is never updated
// in place.
//
// # Status reports
//
// StatusStore keeps reports in insertion order. Reports can carry inline
// result records whose layout is the owning stream's result schema, so
// adding such a report (and selecting reports with the command id in view)
// resolves the stream first. Get, Put and Remove carry records through as
// opaque JSON.
//
// # Selections
//
// SelectEntries returns a database.Cursor that yields entries in key order
// while holding one pooled connection. Drain or close it.
//
// # Notifications
//
// Committed writes are announced through a Publisher. MQTTPublisher sends
// them to a broker; see the mqtt infrastructure package for topic layout.
//
// # Usage
//
//	stores := tasking.NewStores(db, tasking.Options{Scope: 1})
//	defer stores.Close()
//
//	key, err := stores.Streams.Add(ctx, &tasking.CommandStream{
//	    SystemID:         tasking.NewKey(1, 42),
//	    ControlInputName: "pumpControl",
//	    Name:             "Pump control",
//	    ValidTime:        tasking.OpenEndedFrom(time.Now()),
//	})
package tasking
