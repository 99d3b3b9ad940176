package auditor

import (
	"math/rand"
	"time"

	"parceltrack/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type ScheduleConfig struct {
	// Посылки в пути сверяем часто, доставленные — почти никогда.
	ActiveMinDelay time.Duration // default: 15 minutes
	ActiveMaxDelay time.Duration // default: 45 minutes

	TerminalDelay time.Duration // default: 7 days

	// Inconsistent parcels are waiting for a repairing scan, so they get
	// re-derived on their own cadence.
	InconsistentDelay time.Duration // default: 6 hours
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		ActiveMinDelay: 15 * time.Minute,
		ActiveMaxDelay: 45 * time.Minute,

		TerminalDelay: 7 * 24 * time.Hour,

		InconsistentDelay: 6 * time.Hour,
	}
}

type Schedule struct {
	cfg ScheduleConfig
	r   Rand
}

func NewSchedule(cfg ScheduleConfig, r Rand) *Schedule {
	def := DefaultScheduleConfig()
	if cfg.ActiveMinDelay <= 0 {
		cfg.ActiveMinDelay = def.ActiveMinDelay
	}
	if cfg.ActiveMaxDelay <= 0 {
		cfg.ActiveMaxDelay = def.ActiveMaxDelay
	}
	if cfg.ActiveMaxDelay < cfg.ActiveMinDelay {
		cfg.ActiveMaxDelay = cfg.ActiveMinDelay
	}
	if cfg.TerminalDelay <= 0 {
		cfg.TerminalDelay = def.TerminalDelay
	}
	if cfg.InconsistentDelay <= 0 {
		cfg.InconsistentDelay = def.InconsistentDelay
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Schedule{cfg: cfg, r: r}
}

func DefaultSchedule() *Schedule {
	return NewSchedule(DefaultScheduleConfig(), nil)
}

// NextAuditDelay возвращает, через сколько посылку со статусом status нужно
// сверить снова. Для активных статусов добавляем джиттер, чтобы большие
// партии не сходились в одну точку времени.
func (s *Schedule) NextAuditDelay(status string) time.Duration {
	switch {
	case models.IsTerminal(status):
		return s.cfg.TerminalDelay
	case status == models.StatusInconsistent:
		return s.cfg.InconsistentDelay
	default:
		min := s.cfg.ActiveMinDelay
		max := s.cfg.ActiveMaxDelay
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		if secMin < 0 {
			secMin = 0
		}
		if secMax < secMin {
			secMax = secMin
		}
		return time.Duration(secMin+s.r.Intn(secMax-secMin+1)) * time.Second
	}
}
