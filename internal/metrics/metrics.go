/*
tc2-bms-controller - Battery management estimation and control
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package metrics exports per-device cycle results as prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bms"

type Metrics struct {
	registry *prometheus.Registry

	voltage        *prometheus.GaugeVec
	current        *prometheus.GaugeVec
	temperature    *prometheus.GaugeVec
	soc            *prometheus.GaugeVec
	soh            *prometheus.GaugeVec
	resistance     *prometheus.GaugeVec
	optimalCurrent *prometheus.GaugeVec
	fanSpeed       *prometheus.GaugeVec
	operatingState *prometheus.GaugeVec

	cycles    *prometheus.CounterVec
	alarms    *prometheus.CounterVec
	failSafes *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	frames    *prometheus.CounterVec
}

// New registers the metrics on their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	device := []string{"device"}

	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, device)
	}
	return &Metrics{
		registry:       reg,
		voltage:        gauge("voltage_volts", "Filtered battery voltage."),
		current:        gauge("current_amps", "Filtered battery current, positive is charging."),
		temperature:    gauge("temperature_celsius", "Filtered battery temperature."),
		soc:            gauge("state_of_charge_percent", "Estimated state of charge."),
		soh:            gauge("state_of_health_percent", "Estimated state of health."),
		resistance:     gauge("internal_resistance_ohms", "Estimated internal resistance."),
		optimalCurrent: gauge("optimal_current_amps", "Current target for the cycle."),
		fanSpeed:       gauge("fan_speed_percent", "Cooling fan command."),
		operatingState: gauge("operating_state", "Operating state (0 normal, 1 cautious, 2 restricted, 3 emergency, 4 fail safe)."),

		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Cycles run.",
		}, device),
		alarms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_total",
			Help:      "Alarms raised by parameter and level.",
		}, []string{"device", "parameter", "level"}),
		failSafes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_safe_cycles_total",
			Help:      "Cycles where the decision was overridden to fail safe.",
		}, device),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_cycles_total",
			Help:      "Cycles whose measurements failed validation.",
		}, device),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bad_frames_total",
			Help:      "Input frames that couldn't be parsed, by reason.",
		}, []string{"reason"}),
	}
}

// Observe records one cycle of device.
func (m *Metrics) Observe(device string, c bms.Cycle) {
	if m == nil {
		return
	}
	s := c.Result.State
	m.voltage.WithLabelValues(device).Set(s.Voltage)
	m.current.WithLabelValues(device).Set(s.Current)
	m.temperature.WithLabelValues(device).Set(s.Temperature)
	m.soc.WithLabelValues(device).Set(s.StateOfCharge)
	m.soh.WithLabelValues(device).Set(s.Health.StateOfHealth)
	m.resistance.WithLabelValues(device).Set(s.InternalResistance)
	m.optimalCurrent.WithLabelValues(device).Set(c.Result.OptimalCurrent)
	m.fanSpeed.WithLabelValues(device).Set(c.Result.ThermalControl.FanSpeed)
	m.operatingState.WithLabelValues(device).Set(float64(c.Verdict.OperatingState))

	m.cycles.WithLabelValues(device).Inc()
	for _, a := range c.Verdict.Alarms {
		m.alarms.WithLabelValues(device, a.Parameter, a.Level.String()).Inc()
	}
	if c.Result.FailSafe {
		m.failSafes.WithLabelValues(device).Inc()
	}
	if c.Err != nil {
		m.rejected.WithLabelValues(device).Inc()
	}
}

// BadFrame counts an input line that was dropped.
func (m *Metrics) BadFrame(reason string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
