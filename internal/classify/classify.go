package classify

import (
	"strings"

	"github.com/engagekit/rewardpipe/internal/domain"
)

// CandidateSet pairs an action kind with the keywords that indicate it.
// Sets are checked in order; the first hit wins.
type CandidateSet struct {
	Kind     domain.ActionKind
	Keywords []string
}

// Classify maps free-form signal text to an action kind by
// case-insensitive substring containment. It returns the kind of the
// first candidate set (in the given priority order) for which any
// keyword is a substring of the lower-cased signal text, or false if
// nothing matches.
//
// No tokenization, no scoring. False positives like "unsubscribe"
// matching "subscribe" are an accepted trade-off for zero configuration.
func Classify(signalText string, candidates []CandidateSet) (domain.ActionKind, bool) {
	text := strings.ToLower(signalText)
	if text == "" {
		return "", false
	}
	for _, set := range candidates {
		for _, kw := range set.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(kw)) {
				return set.Kind, true
			}
		}
	}
	return "", false
}

// FormCandidates covers form-like submissions. newsletter_signup is
// checked before user_signup so that "newsletter signup form" resolves
// to the more specific kind.
func FormCandidates() []CandidateSet {
	return []CandidateSet{
		{Kind: domain.KindNewsletterSignup, Keywords: []string{"newsletter", "subscribe", "mailing-list", "mailing_list"}},
		{Kind: domain.KindUserSignup, Keywords: []string{"signup", "sign-up", "sign_up", "register", "registration", "create-account", "join"}},
	}
}

// InteractionCandidates covers interactive-element activations
// (buttons, links).
func InteractionCandidates() []CandidateSet {
	return []CandidateSet{
		{Kind: domain.KindPurchaseCompleted, Keywords: []string{"buy", "purchase", "checkout", "add-to-cart", "add_to_cart", "order-now", "pay"}},
		{Kind: domain.KindSocialShare, Keywords: []string{"share", "tweet", "retweet", "facebook", "twitter", "linkedin", "reddit"}},
	}
}

// NavigationCandidates covers destination-path changes. Milestone path
// fragments mark profile/onboarding completion.
func NavigationCandidates() []CandidateSet {
	return []CandidateSet{
		{Kind: domain.KindProfileCompletion, Keywords: []string{
			"/profile/complete",
			"/profile/completed",
			"/onboarding/complete",
			"/onboarding/done",
			"/welcome/complete",
			"/setup/complete",
		}},
	}
}
