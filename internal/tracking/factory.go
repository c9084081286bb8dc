package tracking

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// New creates the backend selected by cfg.Kind
func New(cfg Config, logger logrus.FieldLogger) (Tracker, error) {
	cfg = cfg.withDefaults()

	switch cfg.Kind {
	case KindHTTP:
		return NewHTTPTracker(cfg, logger), nil
	case KindGRPC:
		t, err := NewGRPCTracker(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindReplay:
		t, err := NewReplayTracker(cfg.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown tracker kind: %s", cfg.Kind)
	}
}
