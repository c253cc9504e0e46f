package request

import (
	"context"

	"fwupdate/internal/logger"
	"fwupdate/internal/rules"
	"fwupdate/pkg/logging"
)

// Decider makes the firmware decision for one device.
type Decider interface {
	Decide(ctx context.Context, deviceID string, attrs rules.Attributes, set rules.RuleSet, dryRun bool) (string, error)
}

// RuleProvider hands out the currently active rule set.
type RuleProvider interface {
	RuleSet() rules.RuleSet
}

// FleetLookup resolves the fleets a device belongs to when the request
// does not say.
type FleetLookup interface {
	DeviceFleets(ctx context.Context, deviceID string) ([]string, error)
}

type ProcessorOption func(*Processor)

// WithDryRun forces dry-run mode for every request.
func WithDryRun(dryRun bool) ProcessorOption {
	return func(p *Processor) {
		p.dryRun = dryRun
	}
}

func WithFleetLookup(lookup FleetLookup) ProcessorOption {
	return func(p *Processor) {
		p.fleets = lookup
	}
}

func WithProcessorLogger(log logger.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = log
	}
}

type Processor struct {
	decider Decider
	rules   RuleProvider
	fleets  FleetLookup
	dryRun  bool
	logger  logger.Logger
}

func NewProcessor(decider Decider, provider RuleProvider, opts ...ProcessorOption) *Processor {
	p := &Processor{
		decider: decider,
		rules:   provider,
		logger:  logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one decision for payload against the active rule set.
func (p *Processor) Process(ctx context.Context, payload Payload) (string, error) {
	ctx = logging.WithDeviceUID(ctx, payload.DeviceID)

	attrs := payload.Attributes
	if _, ok := attrs["fleets"]; !ok && p.fleets != nil {
		fleets, err := p.fleets.DeviceFleets(ctx, payload.DeviceID)
		if err != nil {
			return "", err
		}
		attrs = make(rules.Attributes, len(payload.Attributes)+1)
		for k, v := range payload.Attributes {
			attrs[k] = v
		}
		list := make([]any, len(fleets))
		for i, f := range fleets {
			list[i] = f
		}
		attrs["fleets"] = list
		p.logger.DebugwCtx(ctx, "Resolved device fleets", "fleets", fleets)
	}

	set := rules.DefaultRules()
	if p.rules != nil {
		set = p.rules.RuleSet()
	}

	return p.decider.Decide(ctx, payload.DeviceID, attrs, set, p.dryRun || payload.DryRun)
}
