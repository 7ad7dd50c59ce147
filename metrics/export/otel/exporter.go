package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/phiguard"
	"github.com/MrEthical07/phiguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	accessDecisionsName     = "phiguard_access_decisions_total"
	emergencyGrantRatioName = "phiguard_access_emergency_grant_ratio"
	decryptFailureRatioName = "phiguard_phi_decrypt_failure_ratio"
)

// decisionSets tags the access counters by outcome so one instrument carries
// the whole decision mix.
var decisionSets = []struct {
	id    phiguard.MetricID
	attrs metric.ObserveOption
}{
	{phiguard.MetricAccessGranted, metric.WithAttributes(attribute.String("decision", "granted"))},
	{phiguard.MetricAccessDenied, metric.WithAttributes(attribute.String("decision", "denied"))},
	{phiguard.MetricAccessError, metric.WithAttributes(attribute.String("decision", "error"))},
}

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() phiguard.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         phiguard.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      phiguard.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter reports engine metrics through asynchronous OTel instruments.
// Close unregisters its callback.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter

	decisions      metric.Int64ObservableCounter
	emergencyRatio metric.Float64ObservableGauge
	decryptRatio   metric.Float64ObservableGauge
}

func NewOTelExporter(meter metric.Meter, engine *phiguard.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter over any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+4)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	exporter.decisions, err = meter.Int64ObservableCounter(accessDecisionsName,
		metric.WithDescription("Access checks by decision."))
	if err != nil {
		return nil, fmt.Errorf("create access decisions counter: %w", err)
	}
	exporter.emergencyRatio, err = meter.Float64ObservableGauge(emergencyGrantRatioName,
		metric.WithDescription("Share of granted access checks made under declared emergency access."))
	if err != nil {
		return nil, fmt.Errorf("create emergency grant ratio gauge: %w", err)
	}
	exporter.decryptRatio, err = meter.Float64ObservableGauge(decryptFailureRatioName,
		metric.WithDescription("Share of PHI decrypt attempts rejected for format, key version or integrity."))
	if err != nil {
		return nil, fmt.Errorf("create decrypt failure ratio gauge: %w", err)
	}
	observables = append(observables, exporter.decisions, exporter.emergencyRatio, exporter.decryptRatio)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		for _, h := range exporter.histograms {
			raw, ok := snapshot.Histograms[h.id]
			if !ok {
				continue
			}
			nonCumulative := internaldefs.NormalizeBuckets(raw)
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			for i := 0; i < len(cumulative); i++ {
				observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		exporter.observeDerived(observer, snapshot)
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// observeDerived reports the decision mix and the two ratios a compliance
// dashboard alerts on. Ratios are 0 until their denominator is non-zero.
func (e *OTelExporter) observeDerived(observer metric.Observer, snapshot phiguard.MetricsSnapshot) {
	for _, d := range decisionSets {
		observer.ObserveInt64(e.decisions, int64(snapshot.Counters[d.id]), d.attrs)
	}

	observer.ObserveFloat64(e.emergencyRatio, ratio(
		snapshot.Counters[phiguard.MetricEmergencyAccess],
		snapshot.Counters[phiguard.MetricAccessGranted],
	))

	failures := snapshot.Counters[phiguard.MetricPHIDecryptFailure]
	observer.ObserveFloat64(e.decryptRatio, ratio(failures, failures+snapshot.Counters[phiguard.MetricPHIDecrypt]))
}

func ratio(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
