package input

import (
	"math"
	"strings"
	"testing"

	"ballarena/server/internal/logging"
	"ballarena/server/internal/protocol"
	"ballarena/server/internal/state"
)

func newTestValidator() *Validator {
	return NewValidator(Limits{MaxDistance: 100}, WithValidatorLogger(logging.NewTestLogger()))
}

func TestValidatorAcceptsWellFormedMove(t *testing.T) {
	decision := newTestValidator().Validate(protocol.Move{DX: 1, DY: 0, Distance: 50})
	if !decision.Accepted || decision.Reason != ValidationReasonNone {
		t.Fatalf("expected clean acceptance, got %+v", decision)
	}
	if decision.Message != (protocol.Move{DX: 1, DY: 0, Distance: 50}) {
		t.Fatalf("unexpected message %#v", decision.Message)
	}
}

func TestValidatorRejectsBadShapes(t *testing.T) {
	tests := map[string]struct {
		move   protocol.Move
		reason ValidationReason
	}{
		"nan_dx":       {move: protocol.Move{DX: math.NaN(), DY: 1, Distance: 5}, reason: ValidationReasonNonFinite},
		"inf_distance": {move: protocol.Move{DX: 1, DY: 1, Distance: math.Inf(1)}, reason: ValidationReasonNonFinite},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			validator := newTestValidator()
			decision := validator.Validate(tc.move)
			if decision.Accepted || decision.Reason != tc.reason {
				t.Fatalf("expected rejection %q, got %+v", tc.reason, decision)
			}
			if validator.Counters()[tc.reason] != 1 {
				t.Fatalf("expected counter for %q, got %v", tc.reason, validator.Counters())
			}
		})
	}
}

func TestValidatorForwardsZeroDirectionMove(t *testing.T) {
	validator := newTestValidator()
	decision := validator.Validate(protocol.Move{Distance: 5})
	if !decision.Accepted || decision.Reason != ValidationReasonZeroDirection {
		t.Fatalf("expected flagged acceptance, got %+v", decision)
	}
	if validator.Counters()[ValidationReasonZeroDirection] != 1 {
		t.Fatalf("expected zero direction counted, got %v", validator.Counters())
	}
}

func TestZeroDirectionMoveReplacesPendingCommand(t *testing.T) {
	validator := newTestValidator()
	store := state.NewStore(state.Config{Seed: 1})
	store.AddPlayer(1)

	for _, move := range []protocol.Move{{DX: 1, DY: 0, Distance: 50}, {DX: 0, DY: 0, Distance: 10}} {
		decision := validator.Validate(move)
		if !decision.Accepted {
			t.Fatalf("move %+v rejected: %+v", move, decision)
		}
		store.HandleClientMessage(1, decision.Message)
	}
	store.ApplyPendingMoves()

	player, ok := store.Player(1)
	if !ok {
		t.Fatalf("player missing")
	}
	if player.RemainingDistance != 0 || player.VX != 0 || player.VY != 0 {
		t.Fatalf("expected the newer zero move to discard the older command, got %+v", player)
	}
}

func TestValidatorClampsDistance(t *testing.T) {
	decision := newTestValidator().Validate(protocol.Move{DX: 0, DY: 1, Distance: 5000})
	if !decision.Accepted || decision.Reason != ValidationReasonDistanceClamped {
		t.Fatalf("expected clamped acceptance, got %+v", decision)
	}
	if move := decision.Message.(protocol.Move); move.Distance != 100 {
		t.Fatalf("expected distance 100, got %v", move.Distance)
	}
}

func TestValidatorSanitisesNames(t *testing.T) {
	validator := newTestValidator()
	decision := validator.Validate(protocol.Join{Name: "  bob\n"})
	if join := decision.Message.(protocol.Join); join.Name != "bob" {
		t.Fatalf("expected trimmed name, got %q", join.Name)
	}
	long := strings.Repeat("x", 40)
	decision = validator.Validate(protocol.Join{Name: long})
	if join := decision.Message.(protocol.Join); len([]rune(join.Name)) != DefaultMaxNameRunes {
		t.Fatalf("expected name capped at %d runes, got %d", DefaultMaxNameRunes, len(join.Name))
	}
	if decision := validator.Validate(protocol.Join{Name: "alice"}); decision.Reason != ValidationReasonNone {
		t.Fatalf("clean names should not be flagged, got %+v", decision)
	}
}

func TestNilValidatorPassesThrough(t *testing.T) {
	var validator *Validator
	decision := validator.Validate(protocol.Ready{})
	if !decision.Accepted || decision.Message != (protocol.Ready{}) {
		t.Fatalf("unexpected decision %+v", decision)
	}
}
