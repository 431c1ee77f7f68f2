/*
Package storage provides the pluggable storage abstraction for box
documents and their measurements.

# Storage Interface

Two backends implement the Storage interface:
  - memory: in-memory storage for tests and ephemeral runs
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

Reads go through a Cursor rather than returning a slice. The export
pipeline pulls a bounded batch, writes it to the client, and only then asks
for the next one, so memory use does not grow with the size of the window.

	c, err := store.Cursor(ctx, storage.MeasurementQuery{
	    SensorIDs: []string{"5a8ea4c2f1c0d9001a2b3c4d"},
	    Window:    w,
	})
	if err != nil {
	    return err
	}
	defer c.Close()

	for {
	    rows, err := c.Next(ctx, 500)
	    if err != nil {
	        return err
	    }
	    if len(rows) == 0 {
	        break
	    }
	    // write rows
	}

# Key Layout (badger)

Measurements are keyed by time first:

	['m'][unix nanos, big endian (8 bytes)][xxhash(sensorID) (8 bytes)]

A window is one range scan in either direction. The same sensor reporting
twice for the same millisecond overwrites the earlier value.

Boxes are stored as JSON documents under ['b'][boxID].

# Retention

Delete(ctx, before) drops every measurement older than before. The server
runs it periodically when a retention period is configured.
*/
package storage
