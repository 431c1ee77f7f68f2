package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/geogames2/openSenseMap-API/pkg/sdk"
	"github.com/geogames2/openSenseMap-API/pkg/sdk/transport"
	"github.com/geogames2/openSenseMap-API/pkg/server"
)

func main() {
	boxesFile := flag.String("boxes", "boxes.example.yaml", "YAML or JSON file of box documents (same file the server loads)")
	endpoint := flag.String("endpoint", "http://localhost:8080", "API base URL")
	every := flag.Duration("every", 10*time.Second, "interval between readings of one sensor")
	flushEvery := flag.Duration("flush-every", 30*time.Second, "upload interval")
	useCBOR := flag.Bool("cbor", false, "upload CBOR instead of JSON")
	flag.Parse()

	boxes, err := server.ReadBoxes(*boxesFile)
	if err != nil {
		log.Fatalf("❌ Failed to read boxes: %v", err)
	}

	encoding := transport.EncodingJSON
	if *useCBOR {
		encoding = transport.EncodingCBOR
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clients []*sdk.Client
	for _, box := range boxes {
		client, err := sdk.New(sdk.ClientConfig{
			BoxID:      box.ID,
			Endpoint:   *endpoint,
			Encoding:   encoding,
			FlushEvery: *flushEvery,
			OnError: func(err error) {
				log.Printf("⚠️  Upload for box %s failed: %v", box.ID, err)
			},
		})
		if err != nil {
			log.Fatalf("❌ Failed to create client for box %s: %v", box.ID, err)
		}
		if err := client.Start(ctx); err != nil {
			log.Fatalf("❌ Failed to start client for box %s: %v", box.ID, err)
		}
		clients = append(clients, client)

		go simulateBox(ctx, client, box, *every)
	}
	log.Printf("🚦 Simulating %d boxes against %s (%s, reading every %v)", len(boxes), *endpoint, encoding, *every)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down simulator...")
	cancel()
	for _, c := range clients {
		if err := c.Stop(); err != nil {
			log.Printf("⚠️  Final upload failed: %v", err)
		}
	}
	log.Println("👋 Simulator exited")
}
