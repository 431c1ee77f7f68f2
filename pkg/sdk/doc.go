/*
Package sdk is the client library for pushing senseBox readings to the API.

# Quick Start

	client, err := sdk.New(sdk.ClientConfig{
	    BoxID:    "5a8d1c25bc2d41001927a265",
	    APIKey:   os.Getenv("OSEM_BOX_TOKEN"),
	    Endpoint: "http://localhost:8080",
	})
	if err != nil {
	    log.Fatal(err)
	}

	client.Start(context.Background())
	defer client.Stop()

	temp := client.Sensor("5a8d1c25bc2d41001927a266")
	temp.Record(21.5)

# Batching

Readings are buffered and uploaded every FlushEvery (default 5s), or as
soon as a full request of measurement.MaxBatchSize readings is queued.
Larger backlogs are split into several requests. Stop uploads whatever is
still buffered.

Upload failures of the background loop go to ClientConfig.OnError; the
readings of a failed request are not retried.

# Encodings

Requests are JSON arrays by default:

	[{"sensor":"<id>","value":"21.5","createdAt":"2024-03-01T11:00:00.000Z"}]

Set Encoding to transport.EncodingCBOR to send the same records as CBOR.
Locations of mobile readings are only sent with JSON.
*/
package sdk
