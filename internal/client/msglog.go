package client

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// MsgLog accumulates request/response round-trip timings per message
// code for one session. It shares the session's single-owner discipline
// and needs no locking.
type MsgLog struct {
	stats map[string]*msgStat
}

type msgStat struct {
	label string
	count int
	total time.Duration
}

// MsgSummary is the aggregate timing for one message code.
type MsgSummary struct {
	Code    string
	Label   string
	Count   int
	Total   time.Duration
	Average time.Duration
}

func NewMsgLog() *MsgLog {
	return &MsgLog{stats: make(map[string]*msgStat)}
}

func (l *MsgLog) Record(code, label string, d time.Duration) {
	s, ok := l.stats[code]
	if !ok {
		s = &msgStat{label: label}
		l.stats[code] = s
	}
	s.count++
	s.total += d
}

// Summaries returns per-code aggregates sorted by code.
func (l *MsgLog) Summaries() []MsgSummary {
	out := make([]MsgSummary, 0, len(l.stats))
	for code, s := range l.stats {
		sum := MsgSummary{
			Code:  code,
			Label: s.label,
			Count: s.count,
			Total: s.total,
		}
		if s.count > 0 {
			sum.Average = s.total / time.Duration(s.count)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Code < out[j].Code
	})
	return out
}

// Totals returns the count, total and average across every message code.
func (l *MsgLog) Totals() (count int, total, average time.Duration) {
	for _, s := range l.stats {
		count += s.count
		total += s.total
	}
	if count > 0 {
		average = total / time.Duration(count)
	}
	return count, total, average
}

// LogSummary emits one line per message code plus a session total.
func (l *MsgLog) LogSummary(logger zerolog.Logger) {
	for _, s := range l.Summaries() {
		logger.Info().
			Str("code", s.Code).
			Str("message", s.Label).
			Int("count", s.Count).
			Dur("total", s.Total).
			Dur("avg", s.Average).
			Msg("message timing")
	}
	count, total, avg := l.Totals()
	logger.Info().
		Int("count", count).
		Dur("total", total).
		Dur("avg", avg).
		Msg("session timing")
}
