package input

import (
	"math"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"ballarena/server/internal/logging"
	"ballarena/server/internal/protocol"
)

// ValidationReason identifies why a client frame was rejected or rewritten.
type ValidationReason string

const (
	ValidationReasonNone            ValidationReason = ""
	ValidationReasonNonFinite       ValidationReason = "non_finite"
	ValidationReasonZeroDirection   ValidationReason = "zero_direction"
	ValidationReasonDistanceClamped ValidationReason = "distance_clamped"
	ValidationReasonNameTrimmed     ValidationReason = "name_trimmed"
)

// DefaultMaxNameRunes bounds display names.
const DefaultMaxNameRunes = 32

// Limits configures the shape checks applied to inbound frames.
type Limits struct {
	MaxDistance  float64
	MaxNameRunes int
}

// ValidationDecision summarises the result of a Validate call. Message holds
// the sanitised frame and is only meaningful when Accepted is true.
type ValidationDecision struct {
	Accepted bool
	Reason   ValidationReason
	Message  protocol.ClientMessage
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// WithValidatorLogger injects a logger for diagnostics.
func WithValidatorLogger(logger *logging.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Validator applies basic shape checks to decoded client frames.
type Validator struct {
	limits Limits
	logger *logging.Logger

	mu       sync.Mutex
	counters map[ValidationReason]uint64
}

// NewValidator builds a validator with the supplied limits.
func NewValidator(limits Limits, opts ...ValidatorOption) *Validator {
	if limits.MaxNameRunes <= 0 {
		limits.MaxNameRunes = DefaultMaxNameRunes
	}
	validator := &Validator{
		limits:   limits,
		logger:   logging.L(),
		counters: make(map[ValidationReason]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// Validate checks a frame and returns the version safe to hand to the store.
func (v *Validator) Validate(msg protocol.ClientMessage) ValidationDecision {
	if v == nil {
		return ValidationDecision{Accepted: true, Message: msg}
	}
	switch m := msg.(type) {
	case protocol.Move:
		return v.validateMove(m)
	case protocol.Join:
		name, trimmed := v.sanitiseName(m.Name)
		decision := ValidationDecision{Accepted: true, Message: protocol.Join{Name: name}}
		if trimmed {
			decision.Reason = ValidationReasonNameTrimmed
			v.record(decision.Reason)
		}
		return decision
	default:
		return ValidationDecision{Accepted: true, Message: msg}
	}
}

// Counters returns the cumulative count of each non-empty reason.
func (v *Validator) Counters() map[ValidationReason]uint64 {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.counters) == 0 {
		return nil
	}
	out := make(map[ValidationReason]uint64, len(v.counters))
	for reason, count := range v.counters {
		out[reason] = count
	}
	return out
}

func (v *Validator) validateMove(m protocol.Move) ValidationDecision {
	//1.- Reject vectors that cannot be normalised.
	if !finite(m.DX) || !finite(m.DY) || !finite(m.Distance) {
		return v.reject(ValidationReasonNonFinite)
	}
	decision := ValidationDecision{Accepted: true}
	//2.- A zero direction still replaces the pending command; the store discards it when applied.
	if m.DX == 0 && m.DY == 0 {
		decision.Reason = ValidationReasonZeroDirection
		v.record(decision.Reason)
	}
	//3.- Clamp the distance into [0, MaxDistance].
	if m.Distance < 0 {
		m.Distance = 0
	}
	if v.limits.MaxDistance > 0 && m.Distance > v.limits.MaxDistance {
		m.Distance = v.limits.MaxDistance
		decision.Reason = ValidationReasonDistanceClamped
		v.record(decision.Reason)
	}
	decision.Message = m
	return decision
}

func (v *Validator) reject(reason ValidationReason) ValidationDecision {
	v.record(reason)
	v.logger.Debug("client frame rejected", logging.String("reason", string(reason)))
	return ValidationDecision{Accepted: false, Reason: reason}
}

func (v *Validator) record(reason ValidationReason) {
	v.mu.Lock()
	v.counters[reason]++
	v.mu.Unlock()
}

func (v *Validator) sanitiseName(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimSpace(cleaned)
	changed := cleaned != raw
	if utf8.RuneCountInString(cleaned) > v.limits.MaxNameRunes {
		cleaned = string([]rune(cleaned)[:v.limits.MaxNameRunes])
		changed = true
	}
	return cleaned, changed
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
