// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mijahauan/signal-recorder-sub006/archive"
	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// DetectorConfig tunes the matched-filter bank.
type DetectorConfig struct {
	// DetectRate is the analysis rate the envelope is resampled to.
	DetectRate int
	// SearchWindowMS bounds the peak search around the minute boundary.
	SearchWindowMS float64
	// NoiseSigma scales the adaptive threshold: mean + sigma*stddev of
	// the filter output outside the search window.
	NoiseSigma float64
	// TukeyAlpha shapes the tone references.
	TukeyAlpha float64
	// TemplateSeconds overrides the reference length; zero uses each
	// tone's nominal duration. The optimum is empirical, so it stays a
	// tunable.
	TemplateSeconds float64
}

// DefaultDetectorConfig returns the production settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		DetectRate:     3000,
		SearchWindowMS: 500,
		NoiseSigma:     2.5,
		TukeyAlpha:     0.2,
	}
}

type toneRefs struct {
	tpl    ToneTemplate
	sinRef []float64
	cosRef []float64
}

// Detector runs the phase-invariant quadrature matched filter bank
// over completed minutes. One detector belongs to one channel; its
// workspace is reused across minutes.
type Detector struct {
	cfg    DetectorConfig
	family StationFamily
	refs   []toneRefs

	env   []float64
	mag   []float64
	noise []float64

	log zerolog.Logger
}

func NewDetector(family StationFamily, cfg DetectorConfig) *Detector {
	if cfg.DetectRate == 0 {
		cfg = DefaultDetectorConfig()
	}

	d := &Detector{
		cfg:    cfg,
		family: family,
		log:    log.With().Str("caller", "timing").Str("family", family.String()).Logger(),
	}
	for _, tpl := range TemplatesForFamily(family) {
		dur := tpl.DurationSec
		if cfg.TemplateSeconds > 0 {
			dur = cfg.TemplateSeconds
		}
		n := int(dur * float64(cfg.DetectRate))
		sinRef, cosRef := dsp.ToneRefs(tpl.FreqHz, float64(cfg.DetectRate), n, cfg.TukeyAlpha)
		d.refs = append(d.refs, toneRefs{tpl: tpl, sinRef: sinRef, cosRef: cosRef})
	}
	return d
}

// Detect searches one minute record for its station templates. An
// empty result is not an error; it is the expected outcome during
// propagation fades.
func (d *Detector) Detect(m *archive.Minute) []ToneDetection {
	return d.DetectAudio(m, d.prepare(m))
}

// DetectAudio runs the filter bank over an already-prepared 3 kHz
// envelope, letting callers share the resample with the
// discrimination engine.
func (d *Detector) DetectAudio(m *archive.Minute, audio []float64) []ToneDetection {
	if len(audio) == 0 {
		return nil
	}

	rate := float64(d.cfg.DetectRate)
	half := int(d.cfg.SearchWindowMS / 1000.0 * rate)

	var out []ToneDetection
	for i := range d.refs {
		r := &d.refs[i]
		if det, ok := d.detectOne(m, audio, r, half); ok {
			out = append(out, det)
		}
	}
	return out
}

// PrepareAudio exposes the minute's 3 kHz envelope for the
// discrimination engine so the resample runs once per minute.
func (d *Detector) PrepareAudio(m *archive.Minute) []float64 {
	return d.prepare(m)
}

// Rate returns the analysis sample rate.
func (d *Detector) Rate() int { return d.cfg.DetectRate }

func (d *Detector) prepare(m *archive.Minute) []float64 {
	if len(m.Samples) == 0 {
		return nil
	}
	d.env = dsp.Envelope(d.env, m.Samples)
	dsp.RemoveMean(d.env)
	return dsp.Resample(d.env, int(m.SampleRate), d.cfg.DetectRate)
}

func (d *Detector) detectOne(m *archive.Minute, audio []float64, r *toneRefs, half int) (ToneDetection, bool) {
	rate := float64(d.cfg.DetectRate)
	tplLen := len(r.sinRef)

	// The minute record starts exactly at the boundary, so the nominal
	// tone onset is lag zero.
	d.mag = dsp.QuadratureMagnitude(d.mag, audio, r.sinRef, r.cosRef, -half, half+1, 1)
	pi, peak := dsp.MaxIndex(d.mag)
	if pi < 0 {
		return ToneDetection{}, false
	}
	peakLag := pi - half

	// Noise statistics come strictly from outside the search window.
	noiseStart := half + tplLen
	noiseEnd := len(audio) - tplLen
	if noiseEnd <= noiseStart {
		return ToneDetection{}, false
	}
	d.noise = dsp.QuadratureMagnitude(d.noise, audio, r.sinRef, r.cosRef, noiseStart, noiseEnd, 47)
	noiseMean := dsp.Mean(d.noise)
	noiseStd := dsp.StdDev(d.noise)
	floor := noiseMean + d.cfg.NoiseSigma*noiseStd

	if peak <= floor || noiseMean <= 0 {
		return ToneDetection{}, false
	}

	// Sub-sample refinement over the three samples around the peak.
	frac := 0.0
	if pi > 0 && pi < len(d.mag)-1 {
		frac = dsp.QuadraticPeakOffset(d.mag[pi-1], d.mag[pi], d.mag[pi+1])
	}
	refinedLag := float64(peakLag) + frac

	timingErrMS := refinedLag / rate * 1000.0
	snrDB := 20 * math.Log10(peak/noiseMean)

	toneStart := peakLag
	if toneStart < 0 {
		toneStart = 0
	}
	toneEnd := toneStart + tplLen
	if toneEnd > len(audio) {
		toneEnd = len(audio)
	}
	tonePower := dsp.GoertzelPower(audio[toneStart:toneEnd], r.tpl.FreqHz, rate)

	det := ToneDetection{
		Station:         r.tpl.Station,
		FrequencyHz:     r.tpl.FreqHz,
		DurationSec:     r.tpl.DurationSec,
		TimestampUTC:    float64(m.BoundaryUTC) + timingErrMS/1000.0,
		TimingErrorMS:   timingErrMS,
		SNRdB:           snrDB,
		Confidence:      confidenceFromSNR(snrDB),
		CorrelationPeak: peak,
		NoiseFloor:      noiseMean,
		TonePowerDB:     dsp.PowerDB(tonePower),
		UseForTimeSnap:  r.tpl.Station != StationWWVH,
	}

	d.log.Debug().
		Str("station", string(det.Station)).
		Float64("timing_error_ms", det.TimingErrorMS).
		Float64("snr_db", det.SNRdB).
		Msg("Tone detected")
	return det, true
}

func confidenceFromSNR(snrDB float64) float64 {
	c := (snrDB - 5.0) / 30.0
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
