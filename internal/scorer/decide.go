package scorer

import (
	"strconv"

	"github.com/neuraltrust/cis-interceptor/internal/types"
)

// Decide applies the sync-threshold decision from spec.md §4.1 to a scorer
// Result, producing the InterceptResult the dispatcher sends back. It lives
// alongside the scorer (not the dispatcher) because the thresholds it
// straddles — 0.40 and syncThreshold — are scoring-formula constants, not
// transport concerns.
func Decide(res Result, syncThreshold float64) types.InterceptResult {
	switch {
	case res.Score >= syncThreshold:
		return types.InterceptResult{
			Allowed:     false,
			Action:      types.ActionHardBlock,
			RiskScore:   res.Score,
			Labels:      res.Labels,
			BlockReason: BlockReason(res.Matches),
		}
	case res.Score >= 0.40:
		return types.InterceptResult{
			Allowed:      true,
			Action:       types.ActionNudge,
			RiskScore:    res.Score,
			Labels:       res.Labels,
			NudgeMessage: NudgeMessage(res.Matches),
		}
	default:
		return types.InterceptResult{
			Allowed:   true,
			Action:    types.ActionAllow,
			RiskScore: res.Score,
			Labels:    res.Labels,
		}
	}
}

// DecideLengthGate implements the spec.md §4.1 fast path: content longer
// than maxMessageLength short-circuits to a hard block before any regex
// scanning happens.
func DecideLengthGate(maxMessageLength int) types.InterceptResult {
	return types.InterceptResult{
		Allowed:     false,
		Action:      types.ActionHardBlock,
		RiskScore:   1.0,
		Labels:      []string{"message_too_long"},
		BlockReason: messageTooLongReason(maxMessageLength),
	}
}

func messageTooLongReason(maxMessageLength int) string {
	return "This message exceeds the maximum allowed length of " +
		strconv.Itoa(maxMessageLength) + " characters."
}
