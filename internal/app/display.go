package app

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/tracker"
)

const (
	displayW    = 128
	displayH    = 64
	lineSpacing = 13 // basicfont.Face7x13 height
)

// latestSnapshot holds the newest snapshot received over MQTT.
type latestSnapshot struct {
	mu   sync.RWMutex
	snap tracker.Snapshot
	have bool
}

func (l *latestSnapshot) set(s tracker.Snapshot) {
	l.mu.Lock()
	l.snap = s
	l.have = true
	l.mu.Unlock()
}

func (l *latestSnapshot) get() (tracker.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.have
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLines(d *font.Drawer, x int, lines ...string) {
	for i, l := range lines {
		d.Dot = fixed.P(x, lineSpacing*(i+1))
		d.DrawString(l)
	}
}

// renderScores draws the three scores with their labels and the session
// state on one 128x64 frame. Each line fits 18 characters.
func renderScores(s tracker.Snapshot, have bool) *image1bit.VerticalLSB {
	img, d := newFrame()
	switch {
	case !have:
		drawLines(d, 0, "", "Ride Quality", "Waiting...")
	case !s.Ready:
		drawLines(d, 0, "", "Ride Quality", "No Data", s.State.String())
	default:
		drawLines(d, 0,
			fmt.Sprintf("SMO %4.1f %s", s.Scores.Smoothness, s.Labels.Smoothness),
			fmt.Sprintf("STA %4.1f %s", s.Scores.Stability, s.Labels.Stability),
			fmt.Sprintf("STE %4.1f %s", s.Scores.Steadiness, s.Labels.Steadiness),
			fmt.Sprintf("%s n=%d", s.State, s.Samples),
		)
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	d.Dot = fixed.P(29, 26)
	d.DrawString("RideIQ")
	d.Dot = fixed.P(5, 43)
	d.DrawString("Smooth. Stable.")
	return img
}

// RunDisplay renders the latest published scores on an SSD1306 OLED.
func RunDisplay(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.Display.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Info("display initialized", zap.String("bus", cfg.Display.I2CBus))

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Warn("error showing splash", zap.Error(err))
	}

	client, err := connectMQTT(cfg.MQTT, cfg.MQTT.ClientIDDisplay, log.Named("mqtt"))
	if err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesceMs)

	latest := &latestSnapshot{}
	if err := subscribe(client, cfg.Topics.Scores, jsonHandler(log, "scores", latest.set)); err != nil {
		return err
	}
	log.Info("display subscribed", zap.String("topic", cfg.Topics.Scores))

	ticker := time.NewTicker(cfg.Display.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, have := latest.get()
			if err := dev.Draw(dev.Bounds(), renderScores(snap, have), image.Point{}); err != nil {
				log.Warn("error updating display", zap.Error(err))
			}
		}
	}
}
