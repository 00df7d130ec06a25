package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

// Validator turns a bare hostname into a probed Target. It never
// persists anything; that is the caller's job.
type Validator struct {
	prober Prober
	logger *logger.Logger
}

func NewValidator(prober Prober, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.NewLogger(logrus.InfoLevel)
	}
	return &Validator{prober: prober, logger: log}
}

// Validate runs the three probes concurrently: DNS resolution, HTTP
// reachability and the takeover heuristic. Each probe writes its own
// fields, so one failing leaves the others' results intact. Probe errors
// are logged, never returned.
//
// Liveness comes from DNS alone: a target is alive iff it resolved to at
// least one address. HTTP status is advisory and never flips the flag.
func (v *Validator) Validate(ctx context.Context, name string, source models.DiscoverySource) *models.Target {
	var (
		wg sync.WaitGroup

		ips    []string
		dnsErr error

		status  int
		httpErr error

		takeover    bool
		takeoverErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		ips, dnsErr = v.prober.Resolve(ctx, name)
	}()
	go func() {
		defer wg.Done()
		status, _, httpErr = v.prober.ProbeHTTP(ctx, name)
	}()
	go func() {
		defer wg.Done()
		takeover, takeoverErr = v.prober.CheckTakeover(ctx, name)
	}()
	wg.Wait()

	if dnsErr != nil {
		v.logger.WithFields(logger.Fields{"target": name, "probe": "dns"}).Debugf("probe failed: %v", dnsErr)
	}
	if httpErr != nil {
		v.logger.WithFields(logger.Fields{"target": name, "probe": "http"}).Debugf("probe failed: %v", httpErr)
	}
	if takeoverErr != nil {
		v.logger.WithFields(logger.Fields{"target": name, "probe": "takeover"}).Debugf("probe failed: %v", takeoverErr)
	}

	now := time.Now().UTC()
	target := &models.Target{
		Name:              name,
		Source:            source,
		Alive:             len(ips) > 0,
		IPAddresses:       models.StringList(ips),
		TakeoverCandidate: takeover,
		DiscoveredAt:      now,
		LastChecked:       now,
	}
	if httpErr == nil {
		target.HTTPStatus = &status
	}

	return target
}
