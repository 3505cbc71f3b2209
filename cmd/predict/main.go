// Command predict runs a single landing prediction from the configured
// launch point and flight profile and writes it as GeoJSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/balloonscope/internal/bootstrap"
	"github.com/unklstewy/balloonscope/internal/output"
	"github.com/unklstewy/balloonscope/pkg/config"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

func main() {
	configPath := flag.String("config", "configs/balloonscope.yaml", "Path to configuration file")
	outPath := flag.String("out", "", "GeoJSON output file (default: prediction.output, or prediction.geojson)")
	descentOnly := flag.Bool("descent-only", false, "Predict only the descent from the start point")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req, err := buildRequest(cfg, *descentOnly, time.Now())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	path := *outPath
	if path == "" {
		path = cfg.Prediction.Output
	}
	if path == "" {
		path = "prediction.geojson"
	}

	client := bootstrap.PredictionClient(cfg.Prediction)
	samples, err := client.Predict(ctx, req)
	if err != nil {
		log.Fatalf("Prediction failed: %v", err)
	}

	trajectory := &tracking.PredictedTrajectory{
		RequestID:   req.ID,
		Requested:   req.Requested,
		Start:       req.Start,
		Profile:     req.Profile,
		DescentOnly: req.DescentOnly,
		Samples:     samples,
	}
	if err := output.WritePrediction(path, req.Callsign, trajectory); err != nil {
		log.Fatalf("Failed to write prediction: %v", err)
	}

	fmt.Println(describe(trajectory))
	fmt.Printf("Written to %s\n", path)
}

// buildRequest assembles the request from the configured start and profile.
// A start without a time launches at now.
func buildRequest(cfg *config.Config, descentOnly bool, now time.Time) (tracking.PredictionRequest, error) {
	start := bootstrap.Start(cfg.Prediction.Start)
	if start == nil {
		return tracking.PredictionRequest{}, errors.New("prediction.start is not configured")
	}
	if start.Time.IsZero() {
		start.Time = now
	}

	profile := bootstrap.Profile(cfg.Prediction.Profile)
	if err := profile.Validate(); err != nil {
		return tracking.PredictionRequest{}, err
	}

	callsign := "launch"
	if len(cfg.Callsigns) > 0 {
		callsign = cfg.Callsigns[0]
	}

	return tracking.PredictionRequest{
		ID:          uuid.NewString(),
		Callsign:    callsign,
		Start:       *start,
		Profile:     profile,
		DescentOnly: descentOnly,
		Requested:   now,
	}, nil
}

func describe(p *tracking.PredictedTrajectory) string {
	landing, ok := p.Landing()
	if !ok {
		return "Prediction returned no samples"
	}
	burst, _ := p.Burst()
	return fmt.Sprintf("Burst at %.0f m, landing at %s on %s (%d samples)",
		burst.Altitude, landing.Position, landing.Time.Local().Format("2006-01-02 15:04"), len(p.Samples))
}
