// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package store persists the append-only quality and timing records:
// per-day CSV files keyed by (day, channel, method), rolling JSON
// status files, and the analytics state that survives restarts.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mijahauan/signal-recorder-sub006/archive"
	"github.com/mijahauan/signal-recorder-sub006/media"
	"github.com/mijahauan/signal-recorder-sub006/timing"
)

// Method subdirectories under phase2/{CHANNEL}/.
const (
	MethodQuality        = "quality"
	MethodGapEvents      = "gap_events"
	MethodToneDetections = "tone_detections"
	MethodTickWindows    = "tick_windows"
	MethodStationID      = "station_id_440hz"
	MethodBCD            = "bcd_discrimination"
	MethodDiscrimination = "discrimination"
	MethodClockOffset    = "clock_offset"
)

type appender struct {
	day  string
	file *os.File
	w    *csv.Writer
}

// Sink owns one channel's append-only day files. A row is appended
// exactly once and never updated; on restart the sink truncates any
// torn tail so the day file resumes at the last complete row. Single
// writer per file; the sink is driven from one analytics goroutine.
type Sink struct {
	root       string
	channelDir string

	files map[string]*appender

	log zerolog.Logger
}

func NewSink(root, channelDir string) *Sink {
	return &Sink{
		root:       root,
		channelDir: channelDir,
		files:      make(map[string]*appender),
		log:        log.With().Str("caller", "store").Str("channel", channelDir).Logger(),
	}
}

// Close flushes and closes all open day files.
func (s *Sink) Close() error {
	var firstErr error
	for _, a := range s.files {
		a.w.Flush()
		if err := a.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[string]*appender)
	return firstErr
}

// Flush forces buffered rows to disk.
func (s *Sink) Flush() {
	for _, a := range s.files {
		a.w.Flush()
	}
}

func (s *Sink) path(method, day string) string {
	name := fmt.Sprintf("%s_%s_%s.csv", s.channelDir, method, day)
	return filepath.Join(s.root, "phase2", s.channelDir, method, name)
}

func (s *Sink) appenderFor(method, day string, header []string) (*appender, error) {
	if a, ok := s.files[method]; ok {
		if a.day == day {
			return a, nil
		}
		a.w.Flush()
		a.file.Close()
		delete(s.files, method)
	}

	path := s.path(method, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fresh, err := repairTail(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	a := &appender{day: day, file: f, w: csv.NewWriter(f)}
	if fresh {
		if err := a.w.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		a.w.Flush()
	}
	s.files[method] = a
	return a, nil
}

// repairTail truncates a torn last line (no trailing newline) left by
// a crash, so the writer resumes at the last complete row. Returns
// true when the file is empty or new and needs a header.
func repairTail(path string) (fresh bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return false, err
	}
	if st.Size() == 0 {
		return true, nil
	}

	tail := make([]byte, 1)
	if _, err := f.ReadAt(tail, st.Size()-1); err != nil {
		return false, err
	}
	if tail[0] == '\n' {
		return false, nil
	}

	// Scan back for the last newline and cut there.
	const chunk = 4096
	end := st.Size()
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil {
			return false, err
		}
		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				return false, f.Truncate(start + int64(i) + 1)
			}
		}
		end = start
	}
	// No newline at all: the file is one torn row.
	return true, f.Truncate(0)
}

func (s *Sink) append(method, day string, header, rec []string) {
	a, err := s.appenderFor(method, day, header)
	if err != nil {
		s.log.Error().Err(err).Str("method", method).Msg("Day file open failed")
		return
	}
	if err := a.w.Write(rec); err != nil {
		s.log.Error().Err(err).Str("method", method).Msg("Row append failed")
	}
	a.w.Flush()
}

func dayOf(boundaryUTC int64) string {
	return archive.DayKey(time.Unix(boundaryUTC, 0))
}

func f(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
func i64(v int64) string { return strconv.FormatInt(v, 10) }
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

var qualityHeader = []string{
	"minute_boundary_utc", "completeness_pct", "packet_loss_pct",
	"gaps_count", "gap_samples", "packets_received", "packets_lost",
	"packets_late", "packets_duplicate", "cadence_fill_start",
	"cadence_fill_end", "late_start_delay_ms",
}

// WriteMinuteQuality appends one per-minute quality row.
func (s *Sink) WriteMinuteQuality(m *archive.Minute) {
	rec := []string{
		i64(m.BoundaryUTC),
		f(m.CompletenessPct()),
		f(m.Quality.PacketLossPct()),
		u64(m.Quality.GapCount),
		u64(m.Quality.GapSamples),
		u64(m.Quality.PacketsReceived),
		u64(m.Quality.PacketsLost),
		u64(m.Quality.PacketsLate),
		u64(m.Quality.PacketsDuplicate),
		u64(uint64(m.CadenceFillStart)),
		u64(uint64(m.CadenceFillEnd)),
		f(m.LateStartDelayMS),
	}
	s.append(MethodQuality, dayOf(m.BoundaryUTC), qualityHeader, rec)
}

var gapHeader = []string{
	"timestamp_utc", "source", "position_samples", "duration_samples", "packets_affected",
}

// WriteGapEvent appends one gap-event row.
func (s *Sink) WriteGapEvent(g media.GapEvent) {
	rec := []string{
		f(g.TimestampUTC),
		string(g.Source),
		u64(g.PositionSamples),
		u64(uint64(g.DurationSamples)),
		strconv.Itoa(g.PacketsAffected),
	}
	s.append(MethodGapEvents, archive.DayKey(time.Unix(int64(g.TimestampUTC), 0)), gapHeader, rec)
}

var toneHeader = []string{
	"timestamp_utc", "station", "frequency_hz", "duration_sec",
	"timing_error_ms", "snr_db", "confidence", "correlation_peak",
	"noise_floor", "tone_power_db", "use_for_time_snap",
}

// WriteToneDetection appends one row per detected tone.
func (s *Sink) WriteToneDetection(boundaryUTC int64, d timing.ToneDetection) {
	rec := []string{
		f(d.TimestampUTC),
		string(d.Station),
		f(d.FrequencyHz),
		f(d.DurationSec),
		f(d.TimingErrorMS),
		f(d.SNRdB),
		f(d.Confidence),
		f(d.CorrelationPeak),
		f(d.NoiseFloor),
		f(d.TonePowerDB),
		strconv.FormatBool(d.UseForTimeSnap),
	}
	s.append(MethodToneDetections, dayOf(boundaryUTC), toneHeader, rec)
}

var discriminationHeader = []string{
	"minute_boundary_utc", "dominant_station", "confidence",
	"differential_delay_ms", "doppler_hz", "doppler_confidence",
	"delay_spread_ms", "wwv_weight", "wwvh_weight",
}

// WriteDiscrimination appends the minute's fused determination plus a
// per-method detail row in each method's own day file.
func (s *Sink) WriteDiscrimination(res timing.DiscriminationResult) {
	var wwvW, wwvhW float64
	for _, v := range res.Votes {
		switch v.Station {
		case timing.StationWWV:
			wwvW += v.Weight
		case timing.StationWWVH:
			wwvhW += v.Weight
		}
	}

	rec := []string{
		i64(res.BoundaryUTC),
		string(res.DominantStation),
		string(res.Confidence),
		f(res.DifferentialDelayMS),
		f(res.Doppler.ShiftHz),
		f(res.Doppler.Confidence),
		f(res.DelaySpreadMS),
		f(wwvW),
		f(wwvhW),
	}
	s.append(MethodDiscrimination, dayOf(res.BoundaryUTC), discriminationHeader, rec)

	for _, v := range res.Votes {
		s.writeMethodDetail(res.BoundaryUTC, v)
	}
}

var methodDetailHeader = []string{
	"minute_boundary_utc", "station", "weight", "confidence", "metrics",
}

func (s *Sink) writeMethodDetail(boundaryUTC int64, v timing.MethodVote) {
	var dir string
	switch v.Method {
	case "tick_windows":
		dir = MethodTickWindows
	case "station_id_440hz":
		dir = MethodStationID
	case "bcd_discrimination":
		dir = MethodBCD
	default:
		return // timing_tones and test_signal detail live in the summary
	}

	rec := []string{
		i64(boundaryUTC),
		string(v.Station),
		f(v.Weight),
		f(v.Confidence),
		metricsString(v.Metrics),
	}
	s.append(dir, dayOf(boundaryUTC), methodDetailHeader, rec)
}

func metricsString(m map[string]float64) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort keeps the encoding deterministic
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	out := ""
	for idx, k := range keys {
		if idx > 0 {
			out += ";"
		}
		out += k + "=" + strconv.FormatFloat(m[k], 'g', 6, 64)
	}
	return out
}

var clockHeader = []string{
	"arrival_utc", "station", "frequency_hz", "mode",
	"propagation_delay_ms", "d_clock_ms", "uncertainty_ms", "snr_db",
	"grade", "discrimination_confidence",
}

// WriteClockOffset appends one per-broadcast D_clock measurement.
func (s *Sink) WriteClockOffset(m timing.Measurement) {
	rec := []string{
		f(m.ArrivalUTC),
		string(m.Station),
		f(m.FrequencyHz),
		string(m.Mode),
		f(m.PropagationDelay),
		f(m.DClockMS),
		f(m.UncertaintyMS),
		f(m.SNRdB),
		m.Grade.String(),
		f(m.DiscriminationConf),
	}
	s.append(MethodClockOffset, archive.DayKey(time.Unix(int64(m.ArrivalUTC), 0)), clockHeader, rec)
}

// WriteFusedClock appends the fused value into the clock_offset file
// with the synthetic station name FUSED.
func (s *Sink) WriteFusedClock(fc *timing.FusedClock) {
	rec := []string{
		f(fc.UTC),
		"FUSED",
		"0",
		string(fc.State),
		"0",
		f(fc.DClockFusedMS),
		f(fc.UncertaintyMS),
		"0",
		strconv.Itoa(fc.NBroadcasts),
		"0",
	}
	s.append(MethodClockOffset, archive.DayKey(time.Unix(int64(fc.UTC), 0)), clockHeader, rec)
}
