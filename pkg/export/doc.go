// Package export streams stored measurements as CSV or JSON.
//
// # Overview
//
// An export merges raw measurement rows with box and sensor metadata from a
// sidecar and writes the result to the response while the cursor is still
// being read. The full result set is never held in memory.
//
// # Pipeline
//
// Pipeline.Run repeats four steps until the cursor is exhausted:
//   - read up to BatchSize rows from the cursor
//   - transform each row into a Record in column order
//   - serialize the batch into a buffer
//   - write and flush the buffer
//
// The next batch is only read after the previous one was written, so a slow
// client slows the cursor down instead of growing a queue. Cancellation of the
// request context stops the loop before the next read or row, and the cursor
// is closed on every path.
//
// # Columns
//
// Allowed columns: createdAt, value, lat, lng, unit, boxId, sensorId,
// phenomenon, sensorType, boxName, exposure. The default set is
// createdAt,value,lat,lng. Columns a stored row already has (its own
// location, for example) are never replaced by sidecar values.
//
// # HTTP API
//
// Single sensor: GET /boxes/{boxId}/data/{sensorId}
//   - from-date, to-date: RFC3339 (default: last 48 hours)
//   - format: "json" or "csv" (default: json)
//   - newest first, at most 10000 rows
//
// Multiple boxes: GET /boxes/data
//   - boxid or bbox (exactly one)
//   - phenomenon (required), exposure
//   - columns, delimiter
//   - from-date, to-date or date=from,to (default: last 15 days)
//   - format: "csv" or "json" (default: csv)
//
// Both accept download=true to add a Content-Disposition header.
//
// Example:
//
//	curl "http://localhost:8080/boxes/data?bbox=7.5,51.8,7.8,52.0&phenomenon=Temperatur&columns=createdAt,value,boxName" \
//	  -o temperature.csv
package export
