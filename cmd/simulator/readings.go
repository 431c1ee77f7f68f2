package main

import (
	"context"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/sdk"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// walk is a bounded random walk around a plausible value
type walk struct {
	value, step, min, max float64
}

func (w *walk) next(r *rand.Rand) float64 {
	w.value += (r.Float64()*2 - 1) * w.step
	w.value = math.Max(w.min, math.Min(w.max, w.value))
	return math.Round(w.value*100) / 100
}

// walkFor picks a range from the phenomenon title
func walkFor(title string) *walk {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "temp"):
		return &walk{value: 15, step: 0.3, min: -20, max: 40}
	case strings.Contains(t, "feucht"), strings.Contains(t, "humid"):
		return &walk{value: 60, step: 1, min: 0, max: 100}
	case strings.Contains(t, "druck"), strings.Contains(t, "pressure"):
		return &walk{value: 1013, step: 0.5, min: 950, max: 1050}
	case strings.Contains(t, "pm"):
		return &walk{value: 10, step: 2, min: 0, max: 300}
	case strings.Contains(t, "beleucht"), strings.Contains(t, "lux"):
		return &walk{value: 5000, step: 500, min: 0, max: 100000}
	}
	return &walk{value: 50, step: 1, min: 0, max: 100}
}

// simulateBox records one reading per sensor every interval until ctx ends
func simulateBox(ctx context.Context, client *sdk.Client, box storage.Box, every time.Duration) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	walks := make(map[string]*walk, len(box.Sensors))
	for _, s := range box.Sensors {
		walks[s.ID] = walkFor(s.Title)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range box.Sensors {
				if err := client.Sensor(s.ID).Record(walks[s.ID].next(r)); err != nil {
					log.Printf("⚠️  Box %s sensor %s: %v", box.ID, s.ID, err)
				}
			}
		}
	}
}
