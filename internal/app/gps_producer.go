package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/gps"
	"github.com/relabs-tech/rideiq/internal/tracker"
	"github.com/relabs-tech/rideiq/internal/trip"
)

// RouteTopic is where the finished route is published, relative to the trip topic.
func RouteTopic(tripTopic string) string { return tripTopic + "/route" }

type gpsProducer struct {
	trip      *trip.Trip
	pub       Publisher
	tripTopic string
	log       *zap.Logger
}

func (p *gpsProducer) apply(s nmea.Sentence) {
	if p.trip.Apply(s) && s.DataType() == nmea.TypeRMC {
		p.log.Debug("GPS fix", zap.Any("fix", p.trip.Stats().Fix))
	}
}

// follow records the trip only while the tracker is running. Pausing splits
// the route so the paused stretch is never counted.
func (p *gpsProducer) follow(snap tracker.Snapshot) {
	recording := p.trip.Recording()
	switch {
	case snap.State == tracker.Running && !recording:
		p.trip.Resume()
		p.log.Info("trip recording", zap.String("session", snap.SessionID))
	case snap.State != tracker.Running && recording:
		p.trip.Pause()
		p.log.Info("trip paused", zap.Stringer("state", snap.State))
	}
}

// publishStats publishes the running totals once any fix has been seen.
func (p *gpsProducer) publishStats() {
	st := p.trip.Stats()
	if st.Fix.Validity == "" && st.Fix.Quality == "" {
		return
	}
	if err := p.pub.PublishJSON(p.tripTopic, true, st); err != nil {
		p.log.Warn("trip publish error", zap.Error(err))
	}
}

// handleSessionEnd publishes the finished route as GeoJSON and starts a new
// trip. The tracker publishes a summary on the session topic at every stop.
func (p *gpsProducer) handleSessionEnd(_ mqtt.Client, _ mqtt.Message) {
	route := p.trip.Route()
	if err := p.pub.PublishJSON(RouteTopic(p.tripTopic), false, route); err != nil {
		p.log.Warn("route publish error", zap.Error(err))
	}
	st := p.trip.Stats()
	p.log.Info("trip finished",
		zap.Float64("distance_m", st.DistanceMeters),
		zap.Float64("elevation_gain_m", st.ElevationGainMeters),
		zap.Int("points", st.Points))
	p.trip.Reset()
}

// RunGPSProducer opens the GPS serial port, parses NMEA sentences into a trip
// and publishes the trip stats as JSON to the trip topic. The trip follows
// the tracker state published on the scores topic.
func RunGPSProducer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	client, err := connectMQTT(cfg.MQTT, cfg.MQTT.ClientIDGPS, log.Named("mqtt"))
	if err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesceMs)

	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPS.SerialPort,
		BaudRate:              cfg.GPS.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("open GPS serial port %s: %w", serialOpts.PortName, err)
	}
	log.Info("GPS serial port opened",
		zap.String("port", serialOpts.PortName),
		zap.Uint("baud", serialOpts.BaudRate))

	// Nothing is recorded until the tracker reports a running session.
	tr := trip.New()
	tr.Pause()
	p := &gpsProducer{
		trip:      tr,
		pub:       newMQTTPublisher(client, cfg.MQTT.ConnectTimeout),
		tripTopic: cfg.Topics.Trip,
		log:       log,
	}
	if err := subscribe(client, cfg.Topics.Session, p.handleSessionEnd); err != nil {
		port.Close()
		return err
	}
	if err := subscribe(client, cfg.Topics.Scores, jsonHandler(log, "scores", p.follow)); err != nil {
		port.Close()
		return err
	}

	return p.run(ctx, port, cfg.GPS.Publish)
}

// run reads from port until ctx is done or the port fails, publishing stats
// every interval. It closes port.
func (p *gpsProducer) run(ctx context.Context, port io.ReadCloser, interval time.Duration) error {
	readErr := make(chan error, 1)
	go func() { readErr <- gps.ReadSentences(port, p.apply) }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Closing the port unblocks the reader.
			port.Close()
			<-readErr
			return nil
		case err := <-readErr:
			port.Close()
			p.publishStats()
			if err == nil || errors.Is(err, io.EOF) {
				p.log.Info("GPS stream ended")
				return nil
			}
			return err
		case <-ticker.C:
			p.publishStats()
		}
	}
}
