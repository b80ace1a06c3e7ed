package scorer

import (
	"strings"
	"testing"

	"github.com/neuraltrust/cis-interceptor/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestScore_NoMatches(t *testing.T) {
	res := Score("Hey, how are you doing today? The weather is nice!")
	assert.Equal(t, 0.0, res.Score)
	assert.Empty(t, res.Labels)
}

func TestScore_EmptyContent(t *testing.T) {
	res := Score("")
	assert.Equal(t, 0.0, res.Score)
	assert.Empty(t, res.Labels)
}

func TestScore_Phone_CrossesBlockThreshold(t *testing.T) {
	res := Score("Call me at (555) 123-4567 for more details")
	assert.GreaterOrEqual(t, res.Score, 0.65)
	assert.Contains(t, res.Labels, "contact_info_phone")
}

func TestScore_Email_CrossesBlockThreshold(t *testing.T) {
	res := Score("Email me at john.doe@example.com")
	assert.GreaterOrEqual(t, res.Score, 0.65)
	assert.Contains(t, res.Labels, "contact_info_email")
}

func TestScore_URL_IsNudgeBand(t *testing.T) {
	res := Score("Check out my profile at https://example.com/profile")
	assert.GreaterOrEqual(t, res.Score, 0.40)
	assert.Less(t, res.Score, 0.65)
	assert.Contains(t, res.Labels, "external_link")
}

func TestScore_PhoneAndEmail_Combination(t *testing.T) {
	res := Score("Contact me at john@example.com or call (555) 123-4567")
	assert.GreaterOrEqual(t, res.Score, 0.65)
	assert.Contains(t, res.Labels, "contact_info_phone")
	assert.Contains(t, res.Labels, "contact_info_email")

	reason := BlockReason(res.Matches)
	assert.Contains(t, reason, "phone number")
	assert.Contains(t, reason, "email address")
}

func TestScore_SocialMention_Alone_IsBelowNudgeBand(t *testing.T) {
	// A lone social-platform mention weighs less than url (0.40 vs 0.50),
	// so maxWeight*0.85 = 0.34 lands below the 0.40 nudge floor; it takes a
	// second signal to push a social mention into the nudge band.
	res := Score("hit me up on whatsapp later")
	assert.Less(t, res.Score, 0.40)
	assert.Contains(t, res.Labels, "social_platform_mention")
}

func TestScore_SocialMention_WithURL_IsNudgeBand(t *testing.T) {
	res := Score("hit me up on whatsapp, check www.example.com too")
	assert.GreaterOrEqual(t, res.Score, 0.40)
	assert.Less(t, res.Score, 0.65)
	assert.Contains(t, res.Labels, "social_platform_mention")
	assert.Contains(t, res.Labels, "external_link")
}

func TestScore_ObfuscationAlone_StaysLow(t *testing.T) {
	res := Score("five  five  five one two three four five six seven")
	assert.Less(t, res.Score, 0.40)
	assert.Contains(t, res.Labels, "obfuscation_detected")
}

func TestScore_IsPure(t *testing.T) {
	content := "Reach me at jane@example.com anytime"
	first := Score(content)
	second := Score(content)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Labels, second.Labels)
}

func TestScore_AlwaysInRange(t *testing.T) {
	samples := []string{
		"",
		"hello world",
		"+1-555-123-4567 whatsapp telegram bit.ly/xyz",
		strings.Repeat("a@b.co ", 50),
	}
	for _, s := range samples {
		res := Score(s)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestDecide_Allow(t *testing.T) {
	result := Decide(Result{Score: 0.1}, 0.65)
	assert.True(t, result.Allowed)
	assert.Equal(t, types.ActionAllow, result.Action)
	assert.Empty(t, result.NudgeMessage)
	assert.Empty(t, result.BlockReason)
}

func TestDecide_Nudge(t *testing.T) {
	result := Decide(Result{Score: 0.5, Matches: []types.PatternMatch{{Type: "url"}}}, 0.65)
	assert.True(t, result.Allowed)
	assert.Equal(t, types.ActionNudge, result.Action)
	assert.NotEmpty(t, result.NudgeMessage)
	assert.Empty(t, result.BlockReason)
}

func TestDecide_HardBlock(t *testing.T) {
	result := Decide(Result{Score: 0.9, Matches: []types.PatternMatch{{Type: "phone"}}}, 0.65)
	assert.False(t, result.Allowed)
	assert.Equal(t, types.ActionHardBlock, result.Action)
	assert.Empty(t, result.NudgeMessage)
	assert.NotEmpty(t, result.BlockReason)
}

func TestDecideLengthGate(t *testing.T) {
	result := DecideLengthGate(10000)
	assert.False(t, result.Allowed)
	assert.Equal(t, types.ActionHardBlock, result.Action)
	assert.Equal(t, 1.0, result.RiskScore)
	assert.Contains(t, result.Labels, "message_too_long")
	assert.Contains(t, result.BlockReason, "10000")
}
