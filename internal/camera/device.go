package camera

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"crosscount/internal/logging"
)

// Device is a set of channels of one physical camera, started and stopped
// together. When one channel fails the others are stopped too.
type Device struct {
	channels []*Channel
	byName   map[string]*Channel
	cancel   context.CancelFunc
	group    *errgroup.Group
	log      *logrus.Entry
}

// Open validates the channel configs and starts capturing on every channel
func Open(ctx context.Context, cfgs []ChannelConfig, logger logrus.FieldLogger) (*Device, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("device needs at least one channel")
	}

	d := &Device{
		byName: make(map[string]*Channel, len(cfgs)),
		log:    logging.Component(logger, "Device"),
	}
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("channel for %s has no name", cfg.Device)
		}
		if _, dup := d.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate channel name %q", cfg.Name)
		}
		if !deviceExists(cfg.Device) {
			return nil, fmt.Errorf("camera device %s does not exist or is not readable", cfg.Device)
		}
		ch := NewChannel(cfg, logger)
		d.channels = append(d.channels, ch)
		d.byName[cfg.Name] = ch
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	for _, ch := range d.channels {
		d.group.Go(func() error {
			return ch.Run(ctx)
		})
	}

	d.log.Infof("Opened %d channel(s)", len(d.channels))
	return d, nil
}

// Channel returns the channel with the given name
func (d *Device) Channel(name string) (*Channel, error) {
	ch, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("channel %q not found", name)
	}
	return ch, nil
}

// Channels returns the channels in configuration order
func (d *Device) Channels() []*Channel {
	out := make([]*Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// Close stops every channel and returns the first capture error, if any
func (d *Device) Close() error {
	d.cancel()
	err := d.group.Wait()
	for _, ch := range d.channels {
		s := ch.Stats()
		d.log.Infof("Channel %s: %d frames captured, %d dropped", s.Channel, s.FramesCaptured, s.FramesDropped)
	}
	return err
}
